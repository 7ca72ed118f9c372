// bluetry/models/errors.go
package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("authentication required")
	ErrBotCheckRequired  = errors.New("bot check required")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadySubscribed = errors.New("email already subscribed")
	ErrRateLimited       = errors.New("rate limited")
)

// InputError is a validation failure whose message is safe to show to the client.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// Is lets errors.Is(err, ErrInvalidInput) match any InputError.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidInput builds an InputError.
func InvalidInput(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}
