package errors

import (
	"errors"
	"fmt"
)

// Common error types shared across the application
var (
	// Credential store errors
	ErrStore         = errors.New("credential store failure")
	ErrInvalidRecord = errors.New("invalid token record")
	ErrInvalidAppID  = errors.New("invalid application id")

	// Session errors
	ErrNotLoggedIn = errors.New("not logged in")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
