// Package aggregator derives real-time and historical views from the session
// store. Every query is a snapshot read over the database; none of them takes
// an engine lock, so readers never block signal ingestion.
package aggregator

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/pkg/referrers"
	"sitepulse/internal/sessions"
)

// ActiveVisitor is one currently-active session as shown on the live
// dashboard.
type ActiveVisitor struct {
	SessionID        string    `json:"sessionId"`
	Fingerprint      string    `json:"fingerprint"`
	CurrentPage      string    `json:"currentPage"`
	CurrentPageTitle string    `json:"currentPageTitle"`
	DeviceType       string    `json:"deviceType"`
	Browser          string    `json:"browser"`
	Country          string    `json:"country"`
	Referrer         string    `json:"referrer"`
	StartedAt        time.Time `json:"startedAt"`
	LastHeartbeatAt  time.Time `json:"lastHeartbeatAt"`
}

// PageCount is a page tally within a trailing window.
type PageCount struct {
	PagePath string `json:"pagePath"`
	Views    int    `json:"views"`
}

// LabelCount is one slice of a breakdown.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Breakdown dimensions over immutable session attributes.
const (
	ByDevice    = "device"
	ByBrowser   = "browser"
	ByOS        = "os"
	ByReferrer  = "referrer"
	ByUTMSource = "utm_source"
	ByCountry   = "country"
)

// breakdownColumns maps a dimension to its sessions column. Only values in
// this map ever reach the SQL, so the dimension is never interpolated from
// user input directly.
var breakdownColumns = map[string]string{
	ByDevice:    "device_type",
	ByBrowser:   "browser",
	ByOS:        "operating_system",
	ByUTMSource: "utm_source",
	ByCountry:   "country",
}

// ActiveVisitors returns sessions classified active by the read-time formula:
// not ended and last_heartbeat_at within the active window.
func ActiveVisitors(db *gorm.DB, now time.Time, activeWindow time.Duration) ([]ActiveVisitor, error) {
	threshold := now.Add(-activeWindow)

	var records []sessions.VisitorSession
	err := db.Where("ended_at IS NULL AND last_heartbeat_at > ?", threshold).
		Order("last_heartbeat_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	visitors := make([]ActiveVisitor, 0, len(records))
	for _, s := range records {
		visitors = append(visitors, ActiveVisitor{
			SessionID:        s.SessionID,
			Fingerprint:      s.Fingerprint,
			CurrentPage:      s.CurrentPage,
			CurrentPageTitle: s.CurrentPageTitle,
			DeviceType:       s.DeviceType,
			Browser:          s.Browser,
			Country:          s.Country,
			Referrer:         referrerLabel(s.Referrer),
			StartedAt:        s.StartedAt,
			LastHeartbeatAt:  s.LastHeartbeatAt,
		})
	}
	return visitors, nil
}

// PopularPages tallies page paths across open and recently-entered page views
// within the trailing window. Open views of dead sessions are bounded by the
// inactivity sweep, which closes them.
func PopularPages(db *gorm.DB, now time.Time, window time.Duration, limit int) ([]PageCount, error) {
	cutoff := now.Add(-window)

	var results []PageCount
	err := db.Raw(`
        SELECT
            page_path,
            COUNT(*) AS views
        FROM
            page_view_records
        WHERE
            entered_at >= ? OR duration_seconds IS NULL
        GROUP BY
            page_path
        ORDER BY
            views DESC, page_path ASC
        LIMIT ?
    `, cutoff, limit).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to tally popular pages: %w", err)
	}
	return results, nil
}

// Breakdown tallies sessions with any activity in [from, to] by one of the
// immutable session attributes.
func Breakdown(db *gorm.DB, dimension string, from, to time.Time) ([]LabelCount, error) {
	if dimension == ByReferrer {
		return referrerBreakdown(db, from, to)
	}

	column, ok := breakdownColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown breakdown dimension: %s", dimension)
	}

	var results []LabelCount
	query := fmt.Sprintf(`
        SELECT
            %s AS label,
            COUNT(*) AS count
        FROM
            visitor_sessions
        WHERE
            last_heartbeat_at >= ? AND started_at <= ? AND %s != ''
        GROUP BY
            %s
        ORDER BY
            count DESC, label ASC
    `, column, column, column)

	if err := db.Raw(query, from, to).Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to compute %s breakdown: %w", dimension, err)
	}
	return results, nil
}

// referrerBreakdown groups raw referrer URLs in SQL, then folds them into
// friendly names in Go (many hostnames map to one label).
func referrerBreakdown(db *gorm.DB, from, to time.Time) ([]LabelCount, error) {
	var raw []LabelCount
	err := db.Raw(`
        SELECT
            referrer AS label,
            COUNT(*) AS count
        FROM
            visitor_sessions
        WHERE
            last_heartbeat_at >= ? AND started_at <= ?
        GROUP BY
            referrer
    `, from, to).Scan(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute referrer breakdown: %w", err)
	}

	folded := make(map[string]int)
	for _, row := range raw {
		folded[referrerLabel(row.Label)] += row.Count
	}

	results := make([]LabelCount, 0, len(folded))
	for label, count := range folded {
		results = append(results, LabelCount{Label: label, Count: count})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Label < results[j].Label
	})
	return results, nil
}

// UniqueVisitorsForDay counts distinct fingerprints with any session activity
// in the given UTC calendar day. This is deliberately a different denominator
// from active sessions: one fingerprint may back multiple concurrent tabs.
func UniqueVisitorsForDay(db *gorm.DB, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var count int64
	err := db.Model(&sessions.VisitorSession{}).
		Where("fingerprint != '' AND started_at < ? AND last_heartbeat_at >= ?", dayEnd, dayStart).
		Distinct("fingerprint").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unique visitors: %w", err)
	}
	return int(count), nil
}

// referrerLabel reduces a raw referrer URL to a friendly display label.
func referrerLabel(rawReferrer string) string {
	if rawReferrer == "" {
		return referrers.Direct
	}
	parsed, err := url.Parse(rawReferrer)
	if err != nil || parsed.Hostname() == "" {
		return referrers.FriendlyName(rawReferrer)
	}
	return referrers.FriendlyName(parsed.Hostname())
}
