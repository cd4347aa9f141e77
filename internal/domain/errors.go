package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidCode indicates a session code that cannot be normalized.
	ErrInvalidCode = errors.New("invalid session code")
	// ErrForbidden is returned when a non-host attempts a state-changing call.
	ErrForbidden = errors.New("host authority required")
	// ErrUnauthorized indicates a missing or wrong shared password.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidParticipant indicates a participant record without an id.
	ErrInvalidParticipant = errors.New("invalid participant")
	// ErrInvalidScore indicates a score entry missing its key fields.
	ErrInvalidScore = errors.New("invalid score entry")
	// ErrDurableNotConfigured is returned by purge-all when only the in-process store exists.
	ErrDurableNotConfigured = errors.New("durable backend not configured")
)
