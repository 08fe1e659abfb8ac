package platform

import (
	"errors"
	"fmt"
	"time"
)

// Code categorizes adapter failures.
type Code string

const (
	// CodeConfiguration indicates missing or malformed credentials.
	// The platform is excluded for the account.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeAuthentication indicates the platform rejected the credentials.
	// The platform is excluded for the account.
	CodeAuthentication Code = "AUTHENTICATION"

	// CodeTransient indicates a rate limit, timeout or server error.
	// Retried with backoff inside the adapter.
	CodeTransient Code = "TRANSIENT"

	// CodePermanent indicates a rejected request. The attempt is abandoned.
	CodePermanent Code = "PERMANENT"
)

// Error is a classified adapter failure.
type Error struct {
	Code     Code
	Platform string
	PostID   string
	Message  string
	// Status is the HTTP status when the error came from a response.
	Status int
	// RetryAfter is the server-requested delay for transient errors.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Platform != "" && e.PostID != "":
		return fmt.Sprintf("%s: %s (platform=%s, post=%s)", e.Code, msg, e.Platform, e.PostID)
	case e.Platform != "":
		return fmt.Sprintf("%s: %s (platform=%s)", e.Code, msg, e.Platform)
	default:
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error.
func NewError(code Code, platform, message string, err error) *Error {
	return &Error{Code: code, Platform: platform, Message: message, Err: err}
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsTransient returns true if err is a retryable platform error.
func IsTransient(err error) bool { return CodeOf(err) == CodeTransient }

// IsPermanent returns true if err is a non-retryable platform error.
func IsPermanent(err error) bool { return CodeOf(err) == CodePermanent }

// IsConfiguration returns true if err reports missing configuration.
func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

// IsAuthentication returns true if err reports rejected credentials.
func IsAuthentication(err error) bool { return CodeOf(err) == CodeAuthentication }

// RetryAfterOf returns the server-requested delay carried by err.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// WithPost returns a copy of err annotated with postID when err is an *Error.
func WithPost(err error, postID string) error {
	var pe *Error
	if !errors.As(err, &pe) || pe.PostID != "" {
		return err
	}
	cp := *pe
	cp.PostID = postID
	return &cp
}
