package session

import (
	"context"
	"errors"
	"fmt"
)

// Key for session-scoped values in context
type contextKey string

const (
	sessionIDKey contextKey = "sessionID"
	requestIDKey contextKey = "requestID"
)

// ErrSessionIDNotFound is returned when no session ID is found in context
var ErrSessionIDNotFound = errors.New("session ID not found in context")

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// FromContext extracts the session ID from the context
func FromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	if !ok || sessionID == "" {
		return "", ErrSessionIDNotFound
	}
	return sessionID, nil
}

// MustFromContext extracts the session ID from the context or panics
func MustFromContext(ctx context.Context) string {
	sessionID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return sessionID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// ValidateSession validates that the given session ID matches the one in context.
// An empty candidate skips the check.
func ValidateSession(ctx context.Context, candidate string) error {
	if candidate == "" {
		return nil
	}

	sessionID, err := FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get session ID: %w", err)
	}

	if candidate != sessionID {
		return fmt.Errorf("session (%s) does not match context session ID (%s)", candidate, sessionID)
	}

	return nil
}
