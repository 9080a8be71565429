package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so callers can
// match on the exported sentinels regardless of the message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrEmptyField:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNoPermission, ErrCallerIsProvider, ErrCallerNotProvider, ErrNotRegistered:
		return http.StatusForbidden
	case ErrAlreadyRegistered:
		return http.StatusConflict
	case ErrWrongRole:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
)

// Ledger error codes
const (
	ErrAlreadyRegistered ErrorCode = iota + 2000
	ErrEmptyField
	ErrNotRegistered
	ErrWrongRole
	ErrNoPermission
	ErrCallerIsProvider
	ErrCallerNotProvider
)

// Sentinels for errors.Is
var (
	NotFoundError          = &AppError{Code: ErrNotFound, Message: "not found"}
	BadRequestError        = &AppError{Code: ErrBadRequest, Message: "bad request"}
	UnauthorizedError      = &AppError{Code: ErrUnauthorized, Message: "unauthorized"}
	InternalError          = &AppError{Code: ErrInternal, Message: "internal server error"}
	AlreadyRegisteredError = &AppError{Code: ErrAlreadyRegistered, Message: "already registered"}
	EmptyFieldError        = &AppError{Code: ErrEmptyField, Message: "empty field"}
	NotRegisteredError     = &AppError{Code: ErrNotRegistered, Message: "not registered"}
	WrongRoleError         = &AppError{Code: ErrWrongRole, Message: "wrong role"}
	NoPermissionError      = &AppError{Code: ErrNoPermission, Message: "no permission"}
	CallerIsProviderError  = &AppError{Code: ErrCallerIsProvider, Message: "caller is a provider"}
	CallerNotProviderError = &AppError{Code: ErrCallerNotProvider, Message: "caller is not a provider"}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: reason,
	}
}

func AlreadyRegistered(who string) *AppError {
	return &AppError{Code: ErrAlreadyRegistered, Message: fmt.Sprintf("%s already registered", who)}
}

// EmptyField reports a required string field that was left blank.
func EmptyField(field string) *AppError {
	return &AppError{Code: ErrEmptyField, Message: fmt.Sprintf("%s is required", field)}
}

func NotRegistered(who string) *AppError {
	return &AppError{Code: ErrNotRegistered, Message: fmt.Sprintf("%s not registered", who)}
}

func WrongRole(reason string) *AppError {
	return &AppError{Code: ErrWrongRole, Message: reason}
}

func NoPermission(reason string) *AppError {
	return &AppError{Code: ErrNoPermission, Message: reason}
}

func CallerIsProvider(reason string) *AppError {
	return &AppError{Code: ErrCallerIsProvider, Message: reason}
}

func CallerNotProvider(reason string) *AppError {
	return &AppError{Code: ErrCallerNotProvider, Message: reason}
}
