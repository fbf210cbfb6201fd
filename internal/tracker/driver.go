// Package tracker is the client-side session driver: it owns one session id
// for one browsing context, turns local activity into signals and delivers
// them fire-and-forget. It holds no authoritative state; the server merges
// whatever subset of its signals actually arrives.
package tracker

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"sitepulse/internal/adminfilter"
	"sitepulse/internal/fingerprint"
	"sitepulse/internal/pkg/useragent"
	"sitepulse/internal/sessions"
)

const defaultHeartbeatInterval = 5 * time.Second

// Config describes one browsing context.
type Config struct {
	Sender Sender
	Logger *slog.Logger

	// Clock defaults to the wall clock; tests inject a mock.
	Clock quartz.Clock

	// HeartbeatInterval defaults to 5s.
	HeartbeatInterval time.Duration

	UserAgent string
	Probes    fingerprint.Probes
	Referrer  string
}

// Driver simulates the in-page tracking script for a single tab. All state is
// owned by one goroutine; the exported methods enqueue commands onto it, so
// callers never race the heartbeat ticker.
type Driver struct {
	sender   Sender
	logger   *slog.Logger
	clock    quartz.Clock
	interval time.Duration

	sessionID   string
	fingerprint string
	agent       useragent.Info
	referrer    string

	utmSource   string
	utmMedium   string
	utmCampaign string

	cmds chan func()
	done chan struct{}

	// Loop-owned state.
	started       bool
	ended         bool
	page          string
	title         string
	tracked       bool
	visible       bool
	clicks        int
	movements     int
	maxScroll     int
	pageEnteredAt time.Time
	leftPageAt    time.Time
}

// NewDriver creates a driver and loads its first page. The session id is
// minted locally; the server learns it from the start signal. If the first
// page is excluded from tracking no signal is sent until the context
// navigates to an included page.
func NewDriver(cfg Config, rawURL, title string) *Driver {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Driver{
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		interval:    cfg.HeartbeatInterval,
		sessionID:   uuid.NewString(),
		fingerprint: fingerprint.Generate(cfg.Probes),
		agent:       useragent.Classify(cfg.UserAgent),
		referrer:    cfg.Referrer,
		cmds:        make(chan func()),
		done:        make(chan struct{}),
		visible:     true,
	}
	d.utmSource, d.utmMedium, d.utmCampaign = captureUTM(rawURL)

	go d.loop(rawURL, title)
	return d
}

// SessionID returns the locally minted session id.
func (d *Driver) SessionID() string {
	return d.sessionID
}

// Fingerprint returns the pseudo-identity shared by all tabs of the same
// context.
func (d *Driver) Fingerprint() string {
	return d.fingerprint
}

// Navigate simulates an in-session navigation.
func (d *Driver) Navigate(rawURL, title string) {
	d.do(func() { d.openPage(rawURL, title) })
}

// RecordClick counts one click on the current page.
func (d *Driver) RecordClick() {
	d.do(func() { d.clicks++ })
}

// RecordMovement counts one mouse movement burst on the current page.
func (d *Driver) RecordMovement() {
	d.do(func() { d.movements++ })
}

// RecordScroll records a scroll depth observation in percent.
func (d *Driver) RecordScroll(percent int) {
	d.do(func() {
		if percent > d.maxScroll {
			d.maxScroll = percent
		}
	})
}

// SetVisibility pauses heartbeats while the tab is hidden. Counters keep
// accumulating; they travel with the next heartbeat after the tab returns.
func (d *Driver) SetVisibility(visible bool) {
	d.do(func() { d.visible = visible })
}

// Flush forces an immediate heartbeat, bypassing the ticker. Mainly for
// tests and the load generator.
func (d *Driver) Flush() {
	d.do(func() { d.heartbeat() })
}

// Close ends the session (best effort, beacon semantics) and stops the
// driver. It blocks until the loop has exited; closing twice is safe.
func (d *Driver) Close() {
	d.do(func() { d.end() })
	<-d.done
}

func (d *Driver) do(fn func()) {
	select {
	case d.cmds <- fn:
	case <-d.done:
	}
}

func (d *Driver) loop(rawURL, title string) {
	ticker := d.clock.NewTicker(d.interval, "tracker", d.sessionID)
	defer ticker.Stop()

	d.openPage(rawURL, title)

	for {
		select {
		case fn := <-d.cmds:
			fn()
			if d.ended {
				close(d.done)
				return
			}
		case <-ticker.C:
			d.heartbeat()
		}
	}
}

// openPage applies a page load or navigation. Excluded pages produce no
// signal: the driver goes quiet until it sees an included page again.
func (d *Driver) openPage(rawURL, title string) {
	if d.ended {
		return
	}

	now := d.clock.Now().UTC()

	if adminfilter.IsExcluded(rawURL) {
		if d.tracked {
			d.leftPageAt = now
		}
		d.tracked = false
		d.logger.Debug("Entered excluded page, tracking paused",
			slog.String("session_id", d.sessionID))
		return
	}

	prevPage := d.page
	prevDuration := d.timeOnPage(now)

	d.page = pagePath(rawURL)
	d.title = title
	d.tracked = true
	d.clicks = 0
	d.movements = 0
	d.maxScroll = 0
	d.pageEnteredAt = now
	d.leftPageAt = time.Time{}

	if !d.started {
		d.started = true
		d.send("start", d.sender.SendStart(&sessions.StartSignal{
			SessionID:   d.sessionID,
			Fingerprint: d.fingerprint,
			PagePath:    d.page,
			PageTitle:   title,
			Referrer:    d.referrer,
			UTMSource:   d.utmSource,
			UTMMedium:   d.utmMedium,
			UTMCampaign: d.utmCampaign,
			DeviceType:  d.agent.DeviceType,
			Browser:     d.agent.Browser,
			OS:          d.agent.OperatingSystem,
			Timestamp:   now,
		}))
		return
	}

	d.send("page-change", d.sender.SendPageChange(&sessions.PageChangeSignal{
		SessionID:                 d.sessionID,
		PreviousPage:              prevPage,
		NewPage:                   d.page,
		PageTitle:                 title,
		TimeOnPreviousPageSeconds: prevDuration,
		Timestamp:                 now,
	}))
}

func (d *Driver) heartbeat() {
	if d.ended || !d.started || !d.tracked || !d.visible {
		return
	}

	now := d.clock.Now().UTC()
	d.send("heartbeat", d.sender.SendHeartbeat(&sessions.HeartbeatSignal{
		SessionID:         d.sessionID,
		PagePath:          d.page,
		PageTitle:         d.title,
		TimeOnPageSeconds: d.timeOnPage(now),
		ScrollPercentage:  d.maxScroll,
		ClickCount:        d.clicks,
		MovementCount:     d.movements,
		Timestamp:         now,
	}))
}

func (d *Driver) end() {
	if d.ended {
		return
	}
	d.ended = true

	if !d.started {
		return
	}

	now := d.clock.Now().UTC()
	d.send("end", d.sender.SendEnd(&sessions.EndSignal{
		SessionID:              d.sessionID,
		FinalPage:              d.page,
		TimeOnFinalPageSeconds: d.timeOnPage(now),
		Timestamp:              now,
	}))
}

// timeOnPage reports seconds spent on the current tracked page. Time spent
// on an excluded page does not count against the page that was left.
func (d *Driver) timeOnPage(now time.Time) int {
	if d.pageEnteredAt.IsZero() {
		return 0
	}
	until := now
	if !d.tracked && !d.leftPageAt.IsZero() {
		until = d.leftPageAt
	}
	seconds := int(until.Sub(d.pageEnteredAt).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

// send logs and swallows delivery errors. Signals are at-most-once; the
// server's merge rules and sweep absorb any gap.
func (d *Driver) send(kind string, err error) {
	if err != nil {
		d.logger.Debug("Signal delivery failed",
			slog.String("kind", kind),
			slog.String("session_id", d.sessionID),
			slog.Any("error", err))
	}
}

// pagePath reduces a raw URL to its path for reporting. Unparseable input is
// passed through as-is; the server treats paths as opaque labels.
func pagePath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		if err != nil {
			return rawURL
		}
		return "/"
	}
	return parsed.Path
}

// captureUTM extracts campaign attribution from the landing URL. Only the
// first page's query matters; later navigations never overwrite it.
func captureUTM(rawURL string) (source, medium, campaign string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", ""
	}
	query := parsed.Query()
	return query.Get("utm_source"), query.Get("utm_medium"), query.Get("utm_campaign")
}
