// Package common defines shared constants, error codes and sentinel errors
// used across the ledger, its backends and transports. Callers should use
// errors.Is to match the sentinels and CodeOf to obtain the wire code.
package common

import (
	"errors"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid, malformed or revoked token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrRateLimited    = errors.New("rate limited")
	ErrValidation     = errors.New("validation error")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidJSON    = errors.New("invalid json")
	ErrUnavailable    = errors.New("unavailable")
)

// Code is the stable, caller-visible error code.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeInvalidJSON    Code = "INVALID_JSON"
	CodeUnavailable    Code = "UNAVAILABLE"
	CodeInternal       Code = "INTERNAL"
)

var sentinelByCode = map[Code]error{
	CodeValidation:     ErrValidation,
	CodeUnauthorized:   ErrorUnauthorized,
	CodeRateLimited:    ErrRateLimited,
	CodeInvalidPayload: ErrInvalidPayload,
	CodeInvalidJSON:    ErrInvalidJSON,
	CodeUnavailable:    ErrUnavailable,
	CodeInternal:       ErrorInternal,
}

// Error is a user-facing failure: a stable code plus a human-readable
// message. It unwraps to the sentinel matching its code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return sentinelByCode[e.Code]
}

// NewError builds an *Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf maps err to its caller-visible code. Anything that is not a
// known ledger failure is INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return CodeUnauthorized
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrInvalidJSON):
		return CodeInvalidJSON
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	}
	return CodeInternal
}

// MessageOf returns the message that may be shown to a caller. Backend
// detail never leaks: internal failures get a generic text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch CodeOf(err) {
	case CodeValidation:
		return "validation failed"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeRateLimited:
		return "too many requests"
	case CodeInvalidPayload:
		return "invalid payload"
	case CodeInvalidJSON:
		return "payload must be JSON"
	case CodeUnavailable:
		return "service not available"
	}
	return "internal error"
}
