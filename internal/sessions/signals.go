package sessions

import (
	"strings"
	"time"
)

// StartSignal opens a new session. Duplicate starts for a known session_id
// are merged as heartbeats instead of double-counting the initial page view.
type StartSignal struct {
	SessionID   string    `json:"sessionId"`
	Fingerprint string    `json:"fingerprint"`
	PagePath    string    `json:"pagePath"`
	PageTitle   string    `json:"pageTitle"`
	Referrer    string    `json:"referrer"`
	UTMSource   string    `json:"utmSource"`
	UTMMedium   string    `json:"utmMedium"`
	UTMCampaign string    `json:"utmCampaign"`
	DeviceType  string    `json:"deviceType"`
	Browser     string    `json:"browser"`
	OS          string    `json:"os"`
	Timestamp   time.Time `json:"timestamp"`

	// Country is derived server-side from the client IP, never sent by the
	// client.
	Country string `json:"-"`
}

// HeartbeatSignal is the periodic liveness and activity report for an open
// session. Every field except the session id is advisory: the engine merges
// it with max/clamp rules rather than trusting it.
type HeartbeatSignal struct {
	SessionID         string    `json:"sessionId"`
	PagePath          string    `json:"pagePath"`
	PageTitle         string    `json:"pageTitle"`
	TimeOnPageSeconds int       `json:"timeOnPageSeconds"`
	ScrollPercentage  int       `json:"scrollPercentage"`
	ClickCount        int       `json:"clickCount"`
	MovementCount     int       `json:"movementCount"`
	Timestamp         time.Time `json:"timestamp"`
}

// PageChangeSignal closes the outgoing page's view and opens the incoming
// page's view.
type PageChangeSignal struct {
	SessionID                 string    `json:"sessionId"`
	PreviousPage              string    `json:"previousPage"`
	NewPage                   string    `json:"newPage"`
	PageTitle                 string    `json:"pageTitle"`
	TimeOnPreviousPageSeconds int       `json:"timeOnPreviousPageSeconds"`
	Timestamp                 time.Time `json:"timestamp"`
}

// EndSignal terminates a session. The transition is terminal; any later
// signal for the same session id is rejected.
type EndSignal struct {
	SessionID              string    `json:"sessionId"`
	FinalPage              string    `json:"finalPage"`
	TimeOnFinalPageSeconds int       `json:"timeOnFinalPageSeconds"`
	Timestamp              time.Time `json:"timestamp"`
}

const maxSessionIDLength = 64

func validateSessionID(sessionID string) error {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return NewInvalidSignalError("missing session id")
	}
	if len(trimmed) > maxSessionIDLength {
		return NewInvalidSignalError("session id exceeds %d characters", maxSessionIDLength)
	}
	return nil
}

// Validate checks the signal for structural problems. Validation failures are
// rejected at ingestion and never reach the store.
func (s *StartSignal) Validate() error {
	if err := validateSessionID(s.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(s.PagePath) == "" {
		return NewInvalidSignalError("missing page path")
	}
	return nil
}

func (s *HeartbeatSignal) Validate() error {
	return validateSessionID(s.SessionID)
}

func (s *PageChangeSignal) Validate() error {
	if err := validateSessionID(s.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(s.NewPage) == "" {
		return NewInvalidSignalError("missing new page")
	}
	return nil
}

func (s *EndSignal) Validate() error {
	return validateSessionID(s.SessionID)
}
