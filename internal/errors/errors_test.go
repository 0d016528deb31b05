package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(fmt.Errorf("use point: %w", ErrInsufficientBalance)))
	assert.True(t, IsBusiness(fmt.Errorf("confirm: %w", ErrReservationExpired)))
	assert.False(t, IsBusiness(ErrTooManyRequests))
	assert.False(t, IsBusiness(ErrLocked))
	assert.False(t, IsBusiness(fmt.Errorf("connection reset")))
	assert.False(t, IsBusiness(nil))
}
