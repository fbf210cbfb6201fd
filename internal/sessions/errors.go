package sessions

import "fmt"

// InvalidSignalError is returned when a signal fails structural validation.
// Invalid signals are rejected at ingestion and never reach the store.
type InvalidSignalError struct {
	Reason string
}

func NewInvalidSignalError(format string, args ...any) *InvalidSignalError {
	return &InvalidSignalError{Reason: fmt.Sprintf(format, args...)}
}

func (e *InvalidSignalError) Error() string {
	return e.Reason
}

// UnknownSessionError is returned when a signal references a session id that
// was never started (or was already cleaned up).
type UnknownSessionError struct {
	SessionID string
}

func NewUnknownSessionError(sessionID string) *UnknownSessionError {
	return &UnknownSessionError{SessionID: sessionID}
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown session: %s", e.SessionID)
}

// SessionEndedError is returned when a signal arrives for a session that
// already reached its terminal state. The ended transition is final; the
// client must start a new session instead.
type SessionEndedError struct {
	SessionID string
}

func NewSessionEndedError(sessionID string) *SessionEndedError {
	return &SessionEndedError{SessionID: sessionID}
}

func (e *SessionEndedError) Error() string {
	return fmt.Sprintf("session already ended: %s", e.SessionID)
}

// ExcludedPathError is returned when a signal references an administrative
// path. The client-side filter should prevent these from ever being sent;
// the server-side check keeps the invariant even against a misbehaving
// client.
type ExcludedPathError struct {
	Path string
}

func NewExcludedPathError(path string) *ExcludedPathError {
	return &ExcludedPathError{Path: path}
}

func (e *ExcludedPathError) Error() string {
	return fmt.Sprintf("path excluded from tracking: %s", e.Path)
}
