package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyUniqueViolation(t *testing.T) {
	err := Classify(&pq.Error{Code: "23505", Constraint: "uk_point_history_user_req"})

	constraint, ok := UniqueConstraint(err)
	assert.True(t, ok)
	assert.Equal(t, "uk_point_history_user_req", constraint)
	assert.False(t, IsRetryable(err))
}

func TestClassifyLockErrors(t *testing.T) {
	for _, code := range []pq.ErrorCode{"55P03", "40P01", "40001"} {
		err := Classify(&pq.Error{Code: code})
		assert.True(t, IsRetryable(err), "code %s", code)
		assert.False(t, IsUniqueViolation(err), "code %s", code)
	}

	assert.ErrorIs(t, Classify(&pq.Error{Code: "55P03"}), ErrLockNotAvailable)
	assert.ErrorIs(t, Classify(&pq.Error{Code: "40P01"}), ErrDeadlock)
}

func TestClassifyPassThrough(t *testing.T) {
	plain := errors.New("connection reset by peer")
	assert.Equal(t, plain, Classify(plain))
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsRetryable(nil))

	wrapped := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "uk_payments_request_id"})
	assert.True(t, IsUniqueViolation(wrapped))
	assert.True(t, IsRetryable(fmt.Errorf("lock wallet: %w", ErrLockNotAvailable)))
}
