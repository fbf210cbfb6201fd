package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/config"
	"sitepulse/internal/http"
	"sitepulse/internal/http/middleware"
)

// publicCORSConfig is the CORS configuration shared by all public ingestion
// endpoints. Signals arrive cross-origin from tracked sites, so it has to be
// permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API.
func MountAppRoutes(srv *cartridge.Server, api *v1.API) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; in development and test it
	// would interfere with load generation and integration tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Ingestion rate limit. A tab heartbeating every 5 seconds produces 12
	// requests per minute, so 70/min leaves headroom for several tabs plus
	// navigation bursts per IP.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public signal ingestion: rate limiting + permissive CORS. CORS runs
	// first so rejected requests still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Dashboard read API: Bearer API key plus the same rate limit.
	dashboardAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			publicRateLimiter,
			middleware.DashboardAPIKeyAuth(db, logger),
		},
	}

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC INGESTION ROUTES ===
	signalRoutes := map[string]func(*cartridge.Context) error{
		"/x/api/v1/sessions/start":       api.StartSessionHandler,
		"/x/api/v1/sessions/heartbeat":   api.HeartbeatHandler,
		"/x/api/v1/sessions/page-change": api.PageChangeHandler,
		"/x/api/v1/sessions/end":         api.EndSessionHandler,
		"/x/api/v1/sessions/end/beacon":  api.EndSessionBeaconHandler,
	}
	for path, handler := range signalRoutes {
		srv.Post(path, handler, publicAPIConfig)
		srv.Options(path, func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, publicAPIConfig)
	}

	// === DASHBOARD READ ROUTES ===
	srv.Get("/d/api/v1/stats/active", api.ActiveStatsHandler, dashboardAPIConfig)
	srv.Get("/d/api/v1/stats/snapshot", api.SnapshotStatsHandler, dashboardAPIConfig)
	srv.Get("/d/api/v1/stats/pages", api.PagesStatsHandler, dashboardAPIConfig)
	srv.Get("/d/api/v1/stats/breakdown", api.BreakdownStatsHandler, dashboardAPIConfig)
	srv.Get("/d/api/v1/stats/unique-visitors", api.UniqueVisitorsStatsHandler, dashboardAPIConfig)
}
