package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrCapacityExceeded is returned when a booking asks for more spaces than are left.
	ErrCapacityExceeded = errors.New("not enough spaces available")
	// ErrInsufficientBalance is returned when a withdrawal exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidTransition is returned when a record is not in the state an
	// action requires, for example approving an already approved refund.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidSignature is returned for webhooks that fail verification.
	ErrInvalidSignature = gateway.ErrInvalidSignature
	// ErrConflict is returned when a compare-and-set keeps losing to
	// concurrent writers. The operation is safe to retry.
	ErrConflict = errors.New("concurrent update, retry")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// transitionError wraps ErrInvalidTransition with the offending state.
func transitionError(what, id string, status any) error {
	return fmt.Errorf("%s %s is %v: %w", what, id, status, ErrInvalidTransition)
}
