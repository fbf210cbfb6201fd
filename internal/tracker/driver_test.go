package tracker_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/fingerprint"
	"sitepulse/internal/sessions"
	"sitepulse/internal/tracker"
)

// recordingSender captures every signal the driver delivers.
type recordingSender struct {
	mu          sync.Mutex
	starts      []sessions.StartSignal
	heartbeats  []sessions.HeartbeatSignal
	pageChanges []sessions.PageChangeSignal
	ends        []sessions.EndSignal
}

func (r *recordingSender) SendStart(sig *sessions.StartSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, *sig)
	return nil
}

func (r *recordingSender) SendHeartbeat(sig *sessions.HeartbeatSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, *sig)
	return nil
}

func (r *recordingSender) SendPageChange(sig *sessions.PageChangeSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageChanges = append(r.pageChanges, *sig)
	return nil
}

func (r *recordingSender) SendEnd(sig *sessions.EndSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, *sig)
	return nil
}

func (r *recordingSender) counts() (starts, heartbeats, pageChanges, ends int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), len(r.heartbeats), len(r.pageChanges), len(r.ends)
}

const testUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestDriver(t *testing.T, sender tracker.Sender, rawURL, title string) (*tracker.Driver, *quartz.Mock) {
	t.Helper()

	mock := quartz.NewMock(t)
	driver := tracker.NewDriver(tracker.Config{
		Sender:    sender,
		Logger:    slog.New(slog.DiscardHandler),
		Clock:     mock,
		UserAgent: testUA,
		Probes:    fingerprint.Probes{ScreenWidth: 1920, ScreenHeight: 1080, Locale: "en-US"},
		Referrer:  "https://www.google.com/",
	}, rawURL, title)
	return driver, mock
}

// barrier waits until every previously enqueued command has been applied by
// the driver loop. A scroll observation of 0 never changes state.
func barrier(d *tracker.Driver) {
	d.RecordScroll(0)
	d.RecordScroll(0)
}

func TestDriverStartAndEnd(t *testing.T) {
	sender := &recordingSender{}
	driver, mock := newTestDriver(t, sender, "https://example.com/pricing?utm_source=newsletter&utm_medium=email&utm_campaign=spring", "Pricing")
	barrier(driver)

	require.Len(t, sender.starts, 1)
	start := sender.starts[0]
	assert.Equal(t, driver.SessionID(), start.SessionID)
	assert.Equal(t, driver.Fingerprint(), start.Fingerprint)
	assert.Len(t, start.Fingerprint, fingerprint.Length)
	assert.Equal(t, "/pricing", start.PagePath)
	assert.Equal(t, "Pricing", start.PageTitle)
	assert.Equal(t, "https://www.google.com/", start.Referrer)
	assert.Equal(t, "newsletter", start.UTMSource)
	assert.Equal(t, "email", start.UTMMedium)
	assert.Equal(t, "spring", start.UTMCampaign)
	assert.Equal(t, "desktop", start.DeviceType)
	assert.Equal(t, "Chrome", start.Browser)
	assert.Equal(t, "Windows", start.OS)
	assert.Equal(t, mock.Now().UTC(), start.Timestamp)

	driver.Close()

	require.Len(t, sender.ends, 1)
	assert.Equal(t, "/pricing", sender.ends[0].FinalPage)

	// Closing twice is safe and sends nothing further.
	driver.Close()
	assert.Len(t, sender.ends, 1)
}

func TestDriverNavigation(t *testing.T) {
	sender := &recordingSender{}
	driver, mock := newTestDriver(t, sender, "https://example.com/", "Home")

	mock.Advance(30 * time.Second)
	driver.Navigate("https://example.com/docs?utm_source=ignored", "Docs")
	barrier(driver)

	require.Len(t, sender.pageChanges, 1)
	change := sender.pageChanges[0]
	assert.Equal(t, "/", change.PreviousPage)
	assert.Equal(t, "/docs", change.NewPage)
	assert.Equal(t, 30, change.TimeOnPreviousPageSeconds)

	// UTM attribution comes from the landing URL only.
	assert.Len(t, sender.starts, 1)
	assert.Empty(t, sender.starts[0].UTMSource)

	driver.Close()
	require.Len(t, sender.ends, 1)
	assert.Equal(t, "/docs", sender.ends[0].FinalPage)
}

func TestDriverHeartbeatCounters(t *testing.T) {
	sender := &recordingSender{}
	driver, mock := newTestDriver(t, sender, "https://example.com/", "Home")

	driver.RecordClick()
	driver.RecordClick()
	driver.RecordMovement()
	driver.RecordScroll(40)
	driver.RecordScroll(20)
	mock.Advance(3 * time.Second)
	driver.Flush()
	barrier(driver)

	require.Len(t, sender.heartbeats, 1)
	hb := sender.heartbeats[0]
	assert.Equal(t, "/", hb.PagePath)
	assert.Equal(t, 2, hb.ClickCount)
	assert.Equal(t, 1, hb.MovementCount)
	assert.Equal(t, 40, hb.ScrollPercentage)
	assert.Equal(t, 3, hb.TimeOnPageSeconds)

	// Navigation resets the per-page counters.
	driver.Navigate("https://example.com/docs", "Docs")
	driver.Flush()
	barrier(driver)

	require.Len(t, sender.heartbeats, 2)
	hb = sender.heartbeats[1]
	assert.Equal(t, "/docs", hb.PagePath)
	assert.Zero(t, hb.ClickCount)
	assert.Zero(t, hb.MovementCount)
	assert.Zero(t, hb.ScrollPercentage)
	assert.Zero(t, hb.TimeOnPageSeconds)

	driver.Close()
}

func TestDriverVisibility(t *testing.T) {
	sender := &recordingSender{}
	driver, _ := newTestDriver(t, sender, "https://example.com/", "Home")

	driver.SetVisibility(false)
	driver.Flush()
	barrier(driver)
	_, heartbeats, _, _ := sender.counts()
	assert.Zero(t, heartbeats, "hidden tabs do not heartbeat")

	driver.SetVisibility(true)
	driver.Flush()
	barrier(driver)
	_, heartbeats, _, _ = sender.counts()
	assert.Equal(t, 1, heartbeats)

	driver.Close()
}

func TestDriverExcludedPages(t *testing.T) {
	t.Run("excluded landing sends nothing", func(t *testing.T) {
		sender := &recordingSender{}
		driver, _ := newTestDriver(t, sender, "https://example.com/admin/users", "Admin")
		barrier(driver)
		driver.Close()

		starts, heartbeats, pageChanges, ends := sender.counts()
		assert.Zero(t, starts)
		assert.Zero(t, heartbeats)
		assert.Zero(t, pageChanges)
		assert.Zero(t, ends, "a session that never started has nothing to end")
	})

	t.Run("start is deferred to the first included page", func(t *testing.T) {
		sender := &recordingSender{}
		driver, _ := newTestDriver(t, sender, "https://example.com/admin", "Admin")

		driver.Navigate("https://example.com/pricing", "Pricing")
		barrier(driver)

		require.Len(t, sender.starts, 1)
		assert.Equal(t, "/pricing", sender.starts[0].PagePath)
		assert.Empty(t, sender.pageChanges)

		driver.Close()
	})

	t.Run("time on excluded pages is not attributed", func(t *testing.T) {
		sender := &recordingSender{}
		driver, mock := newTestDriver(t, sender, "https://example.com/", "Home")

		mock.Advance(10 * time.Second)
		driver.Navigate("https://example.com/admin", "Admin")
		barrier(driver)

		// Heartbeats pause on the excluded page.
		_, before, _, _ := sender.counts()
		driver.Flush()
		barrier(driver)
		_, after, _, _ := sender.counts()
		assert.Equal(t, before, after)

		mock.Advance(20 * time.Second)
		driver.Navigate("https://example.com/docs", "Docs")
		barrier(driver)

		// 10s on the home page; the 20s in the admin area do not count.
		require.Len(t, sender.pageChanges, 1)
		change := sender.pageChanges[0]
		assert.Equal(t, "/", change.PreviousPage)
		assert.Equal(t, "/docs", change.NewPage)
		assert.Equal(t, 10, change.TimeOnPreviousPageSeconds)

		driver.Close()
	})
}

func TestDriverTickerHeartbeats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mock := quartz.NewMock(t)
	trap := mock.Trap().NewTicker("tracker")
	defer trap.Close()

	sender := &recordingSender{}
	driver := tracker.NewDriver(tracker.Config{
		Sender:            sender,
		Logger:            slog.New(slog.DiscardHandler),
		Clock:             mock,
		HeartbeatInterval: 5 * time.Second,
		UserAgent:         testUA,
	}, "https://example.com/", "Home")

	trap.MustWait(ctx).MustRelease(ctx)

	mock.Advance(5 * time.Second).MustWait(ctx)
	barrier(driver)
	_, heartbeats, _, _ := sender.counts()
	assert.Equal(t, 1, heartbeats)

	mock.Advance(5 * time.Second).MustWait(ctx)
	barrier(driver)
	_, heartbeats, _, _ = sender.counts()
	assert.Equal(t, 2, heartbeats)

	driver.Close()
}
