package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres error codes the application reacts to.
const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

var (
	ErrLockNotAvailable = errors.New("lock not available")
	ErrDeadlock         = errors.New("deadlock detected")
)

// UniqueViolationError reports which unique constraint rejected a write.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// Classify maps driver errors onto the package's error kinds. Other errors are returned as-is.
func Classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case codeUniqueViolation:
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %w", ErrLockNotAvailable, err)
	case codeDeadlockDetected, codeSerializationFailure:
		return fmt.Errorf("%w: %w", ErrDeadlock, err)
	}
	return err
}

// UniqueConstraint returns the violated constraint name when err is a unique violation.
func UniqueConstraint(err error) (string, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv.Constraint, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == codeUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func IsUniqueViolation(err error) bool {
	_, ok := UniqueConstraint(err)
	return ok
}

// IsRetryable reports lock contention errors that succeed when the whole
// transaction is run again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockNotAvailable) || errors.Is(err, ErrDeadlock) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return true
		}
	}
	return false
}
