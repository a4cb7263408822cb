package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity requirements")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	ErrPersistence = fmt.Errorf("persistence failure")

	// ErrDeliveryMiss is logged by the relay and never surfaced to the sender.
	ErrDeliveryMiss  = fmt.Errorf("delivery miss")
	ErrChannelClosed = fmt.Errorf("channel closed")

	// ErrValidation is the parent of every rejected send or query.
	ErrValidation     = fmt.Errorf("validation error")
	ErrEmptyContent   = fmt.Errorf("%w: content must not be empty", ErrValidation)
	ErrContentTooLong = fmt.Errorf("%w: content exceeds maximum length", ErrValidation)
	ErrInvalidUserID  = fmt.Errorf("%w: malformed user id", ErrValidation)
	ErrSelfMessage    = fmt.Errorf("%w: receiver must differ from sender", ErrValidation)
	ErrInvalidCursor  = fmt.Errorf("%w: malformed pagination cursor", ErrValidation)
	ErrUnknownEvent   = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", ErrValidation)
)

// Is re-exports the standard library helper so callers importing this
// package do not need a second alias.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// MapToHTTPStatus translates a domain error to the status code of the History API.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrUnauthorized), Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case Is(err, ErrValidation), Is(err, ErrInvalidPassword):
		return http.StatusBadRequest
	case Is(err, ErrUserAlreadyExists):
		return http.StatusConflict
	case Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Reason returns the short machine readable reason sent in realtime error events.
func Reason(err error) string {
	switch {
	case Is(err, ErrUnauthorized):
		return "unauthorized"
	case Is(err, ErrEmptyContent):
		return "empty_content"
	case Is(err, ErrContentTooLong):
		return "content_too_long"
	case Is(err, ErrSelfMessage):
		return "self_message"
	case Is(err, ErrInvalidUserID):
		return "invalid_receiver"
	case Is(err, ErrUnknownEvent):
		return "unknown_event"
	case Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case Is(err, ErrValidation):
		return "validation_error"
	default:
		return "persistence_error"
	}
}
