package service

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyMember        = errors.New("user is already a member of this group")
	ErrNotMember            = errors.New("user is not a member of this group")
	ErrCreatorCannotLeave   = errors.New("the creator cannot leave the group")
	ErrAlreadyExists        = errors.New("already exists")
	ErrTransient            = errors.New("temporarily unavailable, retry")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// transient wraps a storage failure so callers see ErrTransient while the
// cause stays available for logging.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
