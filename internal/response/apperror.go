package response

import (
	"errors"
	"fmt"
)

// Error is a classified failure of an exam operation.
type Error struct {
	Code ErrCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrServiceUnavailable:
		return e.Code == ErrServiceUnavailableCode
	case ErrSessionInvalid:
		return e.Code == ErrSessionInvalidCode
	case ErrNoActiveSession:
		return e.Code == ErrNoActiveSessionCode
	case ErrInvalidInput:
		return e.Code == ErrValidation
	}
	return false
}

// ServiceUnavailable wraps a network or remote failure of op.
func ServiceUnavailable(op string, err error) *Error {
	return &Error{Code: ErrServiceUnavailableCode, Op: op, Err: err}
}

// SessionInvalid wraps a remote rejection of the session of op.
func SessionInvalid(op string, err error) *Error {
	return &Error{Code: ErrSessionInvalidCode, Op: op, Err: err}
}

// NoActiveSession reports op being invoked outside the Active state.
func NoActiveSession(op string) *Error {
	return &Error{Code: ErrNoActiveSessionCode, Op: op}
}

// Invalid rejects the input of op without changing any state.
func Invalid(op string, err error) *Error {
	return &Error{Code: ErrValidation, Op: op, Err: err}
}

// CodeOf extracts the ErrCode of err, or ErrInternal if err is unclassified.
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}
