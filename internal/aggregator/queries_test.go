package aggregator_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/aggregator"
	"sitepulse/internal/config"
	"sitepulse/internal/sessions"
	"sitepulse/internal/testsupport"
)

func TestMain(m *testing.M) {
	os.Setenv("SITEPULSE_ENV", "test")
	config.Reset()
	os.Exit(m.Run())
}

func setupEngine(t *testing.T) (*sessions.Engine, *quartz.Mock, *gorm.DB, *testsupport.TestDBManager) {
	t.Helper()

	dbManager, logger := testsupport.SetupTestDBManager(t)
	mock := quartz.NewMock(t)
	engine := sessions.NewEngine(dbManager, logger, mock, config.GetConfig())
	return engine, mock, dbManager.GetConnection(), dbManager
}

func start(t *testing.T, engine *sessions.Engine, sessionID, fp, page string) {
	t.Helper()

	require.NoError(t, engine.HandleStart(&sessions.StartSignal{
		SessionID:   sessionID,
		Fingerprint: fp,
		PagePath:    page,
		DeviceType:  "desktop",
		Browser:     "chrome",
		OS:          "linux",
		Referrer:    "https://www.google.com/search",
	}))
}

func TestActiveVisitors(t *testing.T) {
	t.Run("two tabs of one visitor are two active sessions", func(t *testing.T) {
		engine, mock, db, _ := setupEngine(t)

		start(t, engine, "tab-1", "fp-shared", "/")
		start(t, engine, "tab-2", "fp-shared", "/pricing")

		visitors, err := aggregator.ActiveVisitors(db, engine.Now(), engine.ActiveWindow())
		require.NoError(t, err)
		assert.Len(t, visitors, 2)

		// Same visitor behind both.
		unique, err := aggregator.UniqueVisitorsForDay(db, engine.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, unique)

		_ = mock
	})

	t.Run("idle and ended sessions drop out", func(t *testing.T) {
		engine, mock, db, _ := setupEngine(t)

		start(t, engine, "act-stays", "fp-a", "/")
		start(t, engine, "act-ends", "fp-b", "/")
		start(t, engine, "act-idles", "fp-c", "/")

		require.NoError(t, engine.HandleEnd(&sessions.EndSignal{SessionID: "act-ends", Timestamp: mock.Now()}))

		mock.Advance(engine.ActiveWindow() + time.Second)
		require.NoError(t, engine.HandleHeartbeat(&sessions.HeartbeatSignal{
			SessionID: "act-stays", PagePath: "/", Timestamp: mock.Now(),
		}))

		visitors, err := aggregator.ActiveVisitors(db, engine.Now(), engine.ActiveWindow())
		require.NoError(t, err)
		require.Len(t, visitors, 1)
		assert.Equal(t, "act-stays", visitors[0].SessionID)
	})

	t.Run("referrer is folded to a friendly label", func(t *testing.T) {
		engine, _, db, _ := setupEngine(t)

		start(t, engine, "ref-1", "fp-r", "/")

		visitors, err := aggregator.ActiveVisitors(db, engine.Now(), engine.ActiveWindow())
		require.NoError(t, err)
		require.NotEmpty(t, visitors)
		assert.Equal(t, "Google", visitors[0].Referrer)
	})
}

func TestPopularPages(t *testing.T) {
	engine, mock, db, _ := setupEngine(t)

	start(t, engine, "pp-1", "fp-1", "/popular")
	start(t, engine, "pp-2", "fp-2", "/popular")
	start(t, engine, "pp-3", "fp-3", "/other")

	mock.Advance(5 * time.Second)

	pages, err := aggregator.PopularPages(db, engine.Now(), 15*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "/popular", pages[0].PagePath)
	assert.Equal(t, 2, pages[0].Views)
	assert.Equal(t, "/other", pages[1].PagePath)
}

func TestBreakdown(t *testing.T) {
	t.Run("groups by device", func(t *testing.T) {
		engine, _, db, _ := setupEngine(t)

		start(t, engine, "bd-1", "fp-1", "/")
		start(t, engine, "bd-2", "fp-2", "/")
		require.NoError(t, engine.HandleStart(&sessions.StartSignal{
			SessionID: "bd-3", Fingerprint: "fp-3", PagePath: "/", DeviceType: "mobile", Browser: "safari", OS: "ios",
		}))

		now := engine.Now()
		rows, err := aggregator.Breakdown(db, aggregator.ByDevice, now.Add(-time.Hour), now)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, aggregator.LabelCount{Label: "desktop", Count: 2}, rows[0])
		assert.Equal(t, aggregator.LabelCount{Label: "mobile", Count: 1}, rows[1])
	})

	t.Run("rejects unknown dimensions", func(t *testing.T) {
		engine, _, db, _ := setupEngine(t)

		now := engine.Now()
		_, err := aggregator.Breakdown(db, "password", now.Add(-time.Hour), now)
		require.Error(t, err)
	})

	t.Run("folds referrer hostnames into one label", func(t *testing.T) {
		engine, _, db, _ := setupEngine(t)

		start(t, engine, "rf-1", "fp-1", "/")
		start(t, engine, "rf-2", "fp-2", "/")
		require.NoError(t, engine.HandleStart(&sessions.StartSignal{
			SessionID: "rf-3", Fingerprint: "fp-3", PagePath: "/",
		}))

		now := engine.Now()
		rows, err := aggregator.Breakdown(db, aggregator.ByReferrer, now.Add(-time.Hour), now)
		require.NoError(t, err)

		labels := map[string]int{}
		for _, row := range rows {
			labels[row.Label] = row.Count
		}
		assert.Equal(t, 2, labels["Google"])
		assert.Equal(t, 1, labels["Direct"])
	})
}

func TestUniqueVisitorsForDay(t *testing.T) {
	engine, mock, db, _ := setupEngine(t)

	start(t, engine, "uv-1", "fp-one", "/")
	start(t, engine, "uv-2", "fp-one", "/docs")
	start(t, engine, "uv-3", "fp-two", "/")

	unique, err := aggregator.UniqueVisitorsForDay(db, engine.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, unique)

	// A different day counts nothing.
	unique, err = aggregator.UniqueVisitorsForDay(db, mock.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 0, unique)
}

func TestCollector(t *testing.T) {
	engine, _, _, dbManager := setupEngine(t)

	start(t, engine, "col-1", "fp-1", "/")
	start(t, engine, "col-2", "fp-2", "/")

	collector := aggregator.NewCollector(dbManager, engine, testsupport.GetLogger())
	snapshot := collector.Collect(context.Background())

	assert.Equal(t, 2, snapshot.ActiveCount)
	assert.Len(t, snapshot.ActiveVisitors, 2)
	assert.Equal(t, 2, snapshot.UniqueVisitorsToday)
	assert.NotEmpty(t, snapshot.PopularPages)
	assert.Equal(t, engine.Now(), snapshot.GeneratedAt)
}
