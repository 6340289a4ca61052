package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrAlreadyActive      = errors.New("visitor already has an active pass")
	ErrNotCheckedIn       = errors.New("visitor is not checked in")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("insufficient permissions")
)

// ValidationError is returned before any persistence call when input is
// missing or malformed. Rules is set for password strength failures.
type ValidationError struct {
	Message string
	Rules   []RuleResult
}

func (e *ValidationError) Error() string { return e.Message }

func ErrValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
