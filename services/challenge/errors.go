package challenge

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("no active verification challenge")
	ErrExpired          = errors.New("verification code has expired")
	ErrTooManyAttempts  = errors.New("too many failed verification attempts")
	ErrMismatch         = errors.New("verification code does not match")
	ErrStoreUnavailable = errors.New("verification store unavailable")
	ErrInvalidPrincipal = errors.New("principal id is required")

	// ErrRecordNotFound is returned by stores when no record exists for a principal.
	ErrRecordNotFound = errors.New("verification record not found")
)

// MismatchError is returned for a wrong code and reports how many attempts are
// left before the challenge locks. errors.Is(err, ErrMismatch) holds for it.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s (%d attempts remaining)", ErrMismatch.Error(), e.Remaining)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsTerminal reports whether the current challenge can no longer succeed and a
// new one must be issued.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrTooManyAttempts)
}

// MustReauthenticate reports whether the caller should force the user back to
// primary authentication.
func MustReauthenticate(err error) bool {
	return errors.Is(err, ErrExpired)
}
