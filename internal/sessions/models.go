package sessions

import "time"

// SessionState classifies a session for dashboard consumers. Active and idle
// are derived from last_heartbeat_at at read time; only the ended state is
// stored (via EndedAt).
type SessionState string

const (
	StateActive SessionState = "ACTIVE"
	StateIdle   SessionState = "IDLE"
	StateEnded  SessionState = "ENDED"
)

// VisitorSession is the server-side record of one browsing context's tracked
// lifetime, from the first start signal to an explicit end or the inactivity
// sweep. Only the session engine mutates it.
type VisitorSession struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"uniqueIndex;size:64;not null"`
	Fingerprint string `gorm:"index;size:32;not null"`

	StartedAt       time.Time  `gorm:"index;not null"`
	LastHeartbeatAt time.Time  `gorm:"index;not null"`
	EndedAt         *time.Time `gorm:"index"`

	CurrentPage      string `gorm:"index;not null"`
	CurrentPageTitle string
	PageEnteredAt    time.Time

	// Session-cumulative counters; monotonically non-decreasing.
	TotalPageViews      int `gorm:"not null;default:0"`
	ClickCount          int `gorm:"not null;default:0"`
	MovementCount       int `gorm:"not null;default:0"`
	MaxScrollPercentage int `gorm:"not null;default:0"`

	// Per-page high-water marks. The client resets its local counters to
	// zero on every page change, so these are what an incoming heartbeat is
	// merged against before the deltas roll into the session totals.
	PageClickCount    int `gorm:"not null;default:0"`
	PageMovementCount int `gorm:"not null;default:0"`
	PageMaxScroll     int `gorm:"not null;default:0"`

	// Immutable, set once at start.
	Referrer        string `gorm:"index"`
	UTMSource       string `gorm:"index"`
	UTMMedium       string
	UTMCampaign     string
	DeviceType      string `gorm:"index"`
	Browser         string `gorm:"index"`
	OperatingSystem string `gorm:"index"`
	Country         string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEnded reports whether the session reached its terminal state.
func (s *VisitorSession) IsEnded() bool {
	return s.EndedAt != nil
}

// State classifies the session at the given instant. A non-ended session is
// active iff now − last_heartbeat_at < activeWindow, otherwise idle. A late
// heartbeat flips an idle session back to active purely through this formula;
// there is no stored resume transition.
func (s *VisitorSession) State(now time.Time, activeWindow time.Duration) SessionState {
	if s.IsEnded() {
		return StateEnded
	}
	if now.Sub(s.LastHeartbeatAt) < activeWindow {
		return StateActive
	}
	return StateIdle
}

// PageViewRecord is the append-only record of one page visited within a
// session. DurationSeconds stays NULL while the view is open and is set
// exactly once when the view closes; it is never negative and never
// overwritten afterwards.
type PageViewRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	PagePath  string `gorm:"index;not null"`
	PageTitle string

	EnteredAt       time.Time `gorm:"index;not null"`
	DurationSeconds *int

	CreatedAt time.Time
}

// IsOpen reports whether the view has not been closed yet.
func (r *PageViewRecord) IsOpen() bool {
	return r.DurationSeconds == nil
}
