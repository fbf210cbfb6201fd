package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sitepulse/internal/aggregator"
)

const (
	defaultPagesWindowMinutes = 15
	maxPagesWindowMinutes     = 24 * 60
	defaultPagesLimit         = 10
	maxPagesLimit             = 100
	defaultBreakdownHours     = 24
	maxBreakdownHours         = 90 * 24

	// snapshotFreshness bounds how stale a published snapshot may be before
	// the active handler falls back to a live query.
	snapshotFreshness = 30 * time.Second
)

var labelTitler = cases.Title(language.English)

// ActiveStatsHandler returns the currently active visitors. It serves the
// latest published snapshot when fresh and falls back to a live query
// otherwise, so the endpoint works before the first snapshot tick.
func (a *API) ActiveStatsHandler(ctx *cartridge.Context) error {
	now := a.engine.Now()

	if snapshot, ok := a.publisher.Latest(); ok && now.Sub(snapshot.GeneratedAt) <= snapshotFreshness {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"generatedAt": snapshot.GeneratedAt,
			"activeCount": snapshot.ActiveCount,
			"visitors":    snapshot.ActiveVisitors,
		})
	}

	visitors, err := aggregator.ActiveVisitors(ctx.DB(), now, a.engine.ActiveWindow())
	if err != nil {
		ctx.Logger.Error("Failed to load active visitors", slog.Any("error", err))
		return statsError(ctx)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"generatedAt": now,
		"activeCount": len(visitors),
		"visitors":    visitors,
	})
}

// SnapshotStatsHandler returns the full latest snapshot.
func (a *API) SnapshotStatsHandler(ctx *cartridge.Context) error {
	snapshot, ok := a.publisher.Latest()
	if !ok {
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "No snapshot available yet",
			"code":  "SNAPSHOT_PENDING",
		})
	}
	return ctx.Status(http.StatusOK).JSON(snapshot)
}

// PagesStatsHandler returns the most viewed pages within a trailing window.
// Query params: window_minutes (default 15), limit (default 10).
func (a *API) PagesStatsHandler(ctx *cartridge.Context) error {
	windowMinutes := queryIntInRange(ctx, "window_minutes", defaultPagesWindowMinutes, 1, maxPagesWindowMinutes)
	limit := queryIntInRange(ctx, "limit", defaultPagesLimit, 1, maxPagesLimit)

	now := a.engine.Now()
	pages, err := aggregator.PopularPages(ctx.DB(), now, time.Duration(windowMinutes)*time.Minute, limit)
	if err != nil {
		ctx.Logger.Error("Failed to load popular pages", slog.Any("error", err))
		return statsError(ctx)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"generatedAt":   now,
		"windowMinutes": windowMinutes,
		"pages":         pages,
	})
}

// BreakdownStatsHandler returns session counts grouped by one immutable
// session attribute. Query params: by (device|browser|os|referrer|utm_source|
// country), window_hours (default 24).
func (a *API) BreakdownStatsHandler(ctx *cartridge.Context) error {
	dimension := ctx.Query("by", aggregator.ByDevice)
	windowHours := queryIntInRange(ctx, "window_hours", defaultBreakdownHours, 1, maxBreakdownHours)

	now := a.engine.Now()
	from := now.Add(-time.Duration(windowHours) * time.Hour)

	rows, err := aggregator.Breakdown(ctx.DB(), dimension, from, now)
	if err != nil {
		ctx.Logger.Debug("Breakdown query rejected",
			slog.String("dimension", dimension),
			slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown breakdown dimension",
			"code":  "UNKNOWN_DIMENSION",
		})
	}

	// Device and browser labels are stored lowercase; present them titled.
	if dimension == aggregator.ByDevice || dimension == aggregator.ByBrowser || dimension == aggregator.ByOS {
		for i := range rows {
			rows[i].Label = labelTitler.String(rows[i].Label)
		}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"generatedAt": now,
		"by":          dimension,
		"windowHours": windowHours,
		"breakdown":   rows,
	})
}

// UniqueVisitorsStatsHandler returns the distinct fingerprint count for one
// UTC day. Query param: day (YYYY-MM-DD, default today).
func (a *API) UniqueVisitorsStatsHandler(ctx *cartridge.Context) error {
	now := a.engine.Now()
	day := now

	if raw := ctx.Query("day", ""); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid day, expected YYYY-MM-DD",
				"code":  "INVALID_DAY",
			})
		}
		day = parsed
	}

	count, err := aggregator.UniqueVisitorsForDay(ctx.DB(), day)
	if err != nil {
		ctx.Logger.Error("Failed to count unique visitors", slog.Any("error", err))
		return statsError(ctx)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"day":            day.UTC().Format("2006-01-02"),
		"uniqueVisitors": count,
	})
}

func statsError(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to compute statistics",
		"code":  "STATS_ERROR",
	})
}

func queryIntInRange(ctx *cartridge.Context, name string, def, lo, hi int) int {
	value, err := strconv.Atoi(ctx.Query(name, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
