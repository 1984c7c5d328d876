package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	ErrUserNotFound    = NewError(ErrCodeNotFound, "user not found")
	ErrArticleNotFound = NewError(ErrCodeNotFound, "article not found")
	ErrCommentNotFound = NewError(ErrCodeNotFound, "comment not found")
	ErrUsernameTaken   = NewError(ErrCodeConflict, "username already exists")
	ErrInvalidPayload  = NewError(ErrCodeInvalid, "invalid payload")

	ErrUnauthorized     = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrBadCredentials   = NewError(ErrCodeUnauthorized, "invalid username or password")
	ErrAccountDisabled  = NewError(ErrCodeForbidden, "account disabled")
	ErrForbidden        = NewError(ErrCodeForbidden, "access denied")
	ErrTimeout          = NewError(ErrCodeTimeout, "request timed out")
	ErrCacheMiss        = NewError(ErrCodeNotFound, "cache miss")
	ErrUnroutableEvent  = NewError(ErrCodeInvalid, "no queue bound for event")
	ErrEventUndecodable = NewError(ErrCodeInvalid, "event body cannot be decoded")
)

// Token failures. All classify as unauthorized so transports answer 401.
var (
	ErrTokenInvalid          = NewError(ErrCodeUnauthorized, "token invalid")
	ErrTokenExpired          = NewError(ErrCodeUnauthorized, "token expired")
	ErrRefreshWindowExceeded = NewError(ErrCodeUnauthorized, "refresh window exceeded")
)

// PublishError records a failed event publish. It is logged and never
// surfaced to the caller of the write operation.
type PublishError struct {
	MessageID  string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s (%s): %v", e.RoutingKey, e.MessageID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConsumeError records a failed handler invocation for one delivery.
type ConsumeError struct {
	MessageID  string
	RoutingKey string
	RetryCount int
	Terminal   bool
	Err        error
}

func (e *ConsumeError) Error() string {
	state := "retrying"
	if e.Terminal {
		state = "terminal"
	}
	return fmt.Sprintf("consume %s (%s) attempt %d %s: %v", e.RoutingKey, e.MessageID, e.RetryCount, state, e.Err)
}

func (e *ConsumeError) Unwrap() error { return e.Err }

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}
