// Package sessions implements the server-side session engine: a per-session
// state machine that merges unreliable, unordered, at-most-once client
// signals into a consistent notion of session state.
//
// Every signal is treated as a partial, possibly-stale observation. Clock
// fields merge via max, counters via max-with-delta, and client-reported
// durations are clamped to a plausible range instead of trusted. Active vs
// idle is never stored; it is derived from last_heartbeat_at at read time.
package sessions

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/adminfilter"
	"sitepulse/internal/config"
)

// Engine processes lifecycle signals for all sessions. Updates to a single
// session id are serialized through a keyed lock; updates to different
// sessions proceed in parallel. The inactivity sweep contends for the same
// per-session locks, so it can never race a live update.
type Engine struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	clock     quartz.Clock
	locks     keyedLocks

	activeWindow   time.Duration
	longTimeout    time.Duration
	maxPageSeconds int
}

// NewEngine creates a session engine. The clock is injected so inactivity
// classification is testable with a mock.
func NewEngine(dbManager cartridge.DBManager, logger *slog.Logger, clock quartz.Clock, cfg *config.Config) *Engine {
	return &Engine{
		dbManager:      dbManager,
		logger:         logger,
		clock:          clock,
		activeWindow:   time.Duration(cfg.ActiveWindowSeconds) * time.Second,
		longTimeout:    time.Duration(cfg.SessionTimeoutSeconds) * time.Second,
		maxPageSeconds: cfg.MaxPageSeconds,
	}
}

// ActiveWindow returns the read-time classification threshold.
func (e *Engine) ActiveWindow() time.Duration {
	return e.activeWindow
}

// Now returns the engine's current time. Aggregator reads share it so
// classification is consistent between writes and snapshots.
func (e *Engine) Now() time.Time {
	return e.clock.Now().UTC()
}

// HandleStart creates a session and its first open page view. A duplicate
// start for a known session id is merged as if it were a heartbeat, so the
// initial page view is never double-counted.
func (e *Engine) HandleStart(sig *StartSignal) error {
	if err := sig.Validate(); err != nil {
		e.logger.Warn("Rejected malformed start signal", slog.Any("error", err))
		return err
	}
	if adminfilter.IsExcluded(sig.PagePath) {
		return NewExcludedPathError(sig.PagePath)
	}

	unlock := e.locks.lock(sig.SessionID)
	defer unlock()

	now := e.Now()
	db := e.dbManager.GetConnection()

	var existing VisitorSession
	err := db.Where("session_id = ?", sig.SessionID).First(&existing).Error
	if err == nil {
		if existing.IsEnded() {
			return NewSessionEndedError(sig.SessionID)
		}
		heartbeat := &HeartbeatSignal{
			SessionID: sig.SessionID,
			PagePath:  sig.PagePath,
			PageTitle: sig.PageTitle,
			Timestamp: sig.Timestamp,
		}
		return e.mergeHeartbeatLocked(db, &existing, heartbeat, now)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	startedAt := clampTimestamp(sig.Timestamp, now)
	session := &VisitorSession{
		SessionID:        sig.SessionID,
		Fingerprint:      sig.Fingerprint,
		StartedAt:        startedAt,
		LastHeartbeatAt:  startedAt,
		CurrentPage:      sig.PagePath,
		CurrentPageTitle: sig.PageTitle,
		PageEnteredAt:    startedAt,
		TotalPageViews:   1,
		Referrer:         sig.Referrer,
		UTMSource:        sig.UTMSource,
		UTMMedium:        sig.UTMMedium,
		UTMCampaign:      sig.UTMCampaign,
		DeviceType:       sig.DeviceType,
		Browser:          sig.Browser,
		OperatingSystem:  sig.OS,
		Country:          sig.Country,
	}
	pageView := &PageViewRecord{
		SessionID: sig.SessionID,
		PagePath:  sig.PagePath,
		PageTitle: sig.PageTitle,
		EnteredAt: startedAt,
	}

	return sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		return tx.Create(pageView).Error
	})
}

// HandleHeartbeat merges a heartbeat into its session. Out-of-order delivery
// is tolerated: a stale timestamp never rolls last_heartbeat_at back, and
// counters only move up.
func (e *Engine) HandleHeartbeat(sig *HeartbeatSignal) error {
	if err := sig.Validate(); err != nil {
		e.logger.Warn("Rejected malformed heartbeat signal", slog.Any("error", err))
		return err
	}

	unlock := e.locks.lock(sig.SessionID)
	defer unlock()

	now := e.Now()
	db := e.dbManager.GetConnection()

	session, err := e.loadOpenSession(db, sig.SessionID)
	if err != nil {
		return err
	}
	return e.mergeHeartbeatLocked(db, session, sig, now)
}

// HandlePageChange closes the outgoing page's view, opens the incoming one
// and resets the per-page counters. The outgoing duration is advisory and is
// clamped to [0, maxPageSeconds].
func (e *Engine) HandlePageChange(sig *PageChangeSignal) error {
	if err := sig.Validate(); err != nil {
		e.logger.Warn("Rejected malformed page-change signal", slog.Any("error", err))
		return err
	}
	if adminfilter.IsExcluded(sig.NewPage) {
		// A navigation into an administrative area is never recorded; the
		// session stays open until the sweep finalizes it.
		return NewExcludedPathError(sig.NewPage)
	}

	unlock := e.locks.lock(sig.SessionID)
	defer unlock()

	now := e.Now()
	db := e.dbManager.GetConnection()

	session, err := e.loadOpenSession(db, sig.SessionID)
	if err != nil {
		return err
	}

	duration := clampInt(sig.TimeOnPreviousPageSeconds, 0, e.maxPageSeconds)
	newView := &PageViewRecord{
		SessionID: sig.SessionID,
		PagePath:  sig.NewPage,
		PageTitle: sig.PageTitle,
		EnteredAt: now,
	}

	session.CurrentPage = sig.NewPage
	session.CurrentPageTitle = sig.PageTitle
	session.PageEnteredAt = now
	session.TotalPageViews++
	session.PageClickCount = 0
	session.PageMovementCount = 0
	session.PageMaxScroll = 0
	session.LastHeartbeatAt = maxTime(session.LastHeartbeatAt, now)

	return sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		if err := closeOpenPageView(tx, sig.SessionID, duration); err != nil {
			return err
		}
		if err := tx.Create(newView).Error; err != nil {
			return err
		}
		return tx.Save(session).Error
	})
}

// HandleEnd finalizes a session. The transition is terminal; any further
// signal for the same session id is rejected.
func (e *Engine) HandleEnd(sig *EndSignal) error {
	if err := sig.Validate(); err != nil {
		e.logger.Warn("Rejected malformed end signal", slog.Any("error", err))
		return err
	}

	unlock := e.locks.lock(sig.SessionID)
	defer unlock()

	now := e.Now()
	db := e.dbManager.GetConnection()

	session, err := e.loadOpenSession(db, sig.SessionID)
	if err != nil {
		return err
	}

	duration := clampInt(sig.TimeOnFinalPageSeconds, 0, e.maxPageSeconds)
	session.EndedAt = &now
	session.LastHeartbeatAt = maxTime(session.LastHeartbeatAt, now)

	return sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		if err := closeOpenPageView(tx, sig.SessionID, duration); err != nil {
			return err
		}
		return tx.Save(session).Error
	})
}

// Sweep finalizes every non-ended session whose last heartbeat is older than
// the long timeout. It is the compensating mechanism for end signals that
// never arrived (killed tab, crash, connectivity loss). The best-known end
// time is last_heartbeat_at, not now. Returns the number of sessions
// finalized.
func (e *Engine) Sweep() (int, error) {
	now := e.Now()
	cutoff := now.Add(-e.longTimeout)
	db := e.dbManager.GetConnection()

	var staleIDs []string
	err := db.Model(&VisitorSession{}).
		Where("ended_at IS NULL AND last_heartbeat_at < ?", cutoff).
		Pluck("session_id", &staleIDs).Error
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, sessionID := range staleIDs {
		done, err := e.finalizeStale(db, sessionID, cutoff)
		if err != nil {
			e.logger.Error("Failed to finalize stale session",
				slog.String("session_id", sessionID),
				slog.Any("error", err))
			continue
		}
		if done {
			finalized++
		}
	}

	if finalized > 0 {
		e.logger.Info("Inactivity sweep finalized sessions", slog.Int("count", finalized))
	}
	return finalized, nil
}

// finalizeStale re-checks the session under its own lock before finalizing,
// so a heartbeat that slipped in between the scan and the lock wins.
func (e *Engine) finalizeStale(db *gorm.DB, sessionID string, cutoff time.Time) (bool, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	var session VisitorSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if session.IsEnded() || !session.LastHeartbeatAt.Before(cutoff) {
		return false, nil
	}

	endedAt := session.LastHeartbeatAt
	duration := clampInt(int(endedAt.Sub(session.PageEnteredAt).Seconds()), 0, e.maxPageSeconds)
	session.EndedAt = &endedAt

	err := sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		if err := closeOpenPageView(tx, sessionID, duration); err != nil {
			return err
		}
		return tx.Save(&session).Error
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// loadOpenSession loads a session and rejects unknown or ended ones.
func (e *Engine) loadOpenSession(db *gorm.DB, sessionID string) (*VisitorSession, error) {
	var session VisitorSession
	err := db.Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewUnknownSessionError(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.IsEnded() {
		return nil, NewSessionEndedError(sessionID)
	}
	return &session, nil
}

// mergeHeartbeatLocked applies the idempotent merge rules to a loaded
// session. The caller holds the session's lock.
func (e *Engine) mergeHeartbeatLocked(db *gorm.DB, session *VisitorSession, sig *HeartbeatSignal, now time.Time) error {
	incoming := clampTimestamp(sig.Timestamp, now)
	session.LastHeartbeatAt = maxTime(session.LastHeartbeatAt, incoming)

	scroll := clampInt(sig.ScrollPercentage, 0, 100)
	if scroll > session.PageMaxScroll {
		session.PageMaxScroll = scroll
	}
	if scroll > session.MaxScrollPercentage {
		session.MaxScrollPercentage = scroll
	}

	// Per-page counters from the client are cumulative since the last page
	// change; only the delta above the stored high-water mark rolls into the
	// session totals, so duplicates and reordering never double-count.
	if sig.ClickCount > session.PageClickCount {
		session.ClickCount += sig.ClickCount - session.PageClickCount
		session.PageClickCount = sig.ClickCount
	}
	if sig.MovementCount > session.PageMovementCount {
		session.MovementCount += sig.MovementCount - session.PageMovementCount
		session.PageMovementCount = sig.MovementCount
	}

	if sig.PagePath == session.CurrentPage && sig.PageTitle != "" {
		session.CurrentPageTitle = sig.PageTitle
	}

	return sqlite.PerformWrite(e.logger, db, func(tx *gorm.DB) error {
		return tx.Save(session).Error
	})
}

// closeOpenPageView sets the duration on the session's open page view. The
// WHERE clause only matches an unset duration, so a closed view is never
// overwritten.
func closeOpenPageView(tx *gorm.DB, sessionID string, durationSeconds int) error {
	return tx.Model(&PageViewRecord{}).
		Where("session_id = ? AND duration_seconds IS NULL", sessionID).
		Update("duration_seconds", durationSeconds).Error
}

// clampTimestamp rejects zero and future timestamps in favor of the server
// clock; client time is advisory.
func clampTimestamp(ts, now time.Time) time.Time {
	if ts.IsZero() || ts.After(now) {
		return now
	}
	return ts.UTC()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
