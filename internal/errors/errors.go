package errors

import "errors"

var ErrUnauthorized = errors.New("user is not authorized")
var ErrForbidden = errors.New("operation is forbidden for user")

// Validation errors. Rejected synchronously, never retried.
var ErrInvalidArgument = errors.New("invalid argument")
var ErrNotFound = errors.New("resource not found")

// Conflict errors. The client may retry with different input.
var ErrSeatAlreadyHeld = errors.New("seat is already held")
var ErrAlreadyResolved = errors.New("reservation is already resolved")
var ErrReservationExpired = errors.New("reservation hold has expired")
var ErrInsufficientBalance = errors.New("insufficient point balance")
var ErrInvalidTransition = errors.New("invalid status transition")

// Contention errors.
var ErrTooManyRequests = errors.New("too many concurrent requests")
var ErrLocked = errors.New("resource is locked, try later")

// IsBusiness reports whether err is a domain outcome rather than an
// infrastructure failure. Saga handlers turn business errors into failed
// events and acknowledge the message.
func IsBusiness(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrSeatAlreadyHeld),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrReservationExpired),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrForbidden):
		return true
	}
	return false
}
