package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/aggregator"
	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/pkg/useragent"
	"sitepulse/internal/sessions"
)

const (
	msgSignalAccepted = "Signal accepted"
	errInvalidRequest = "Invalid request"
)

// API holds the dependencies shared by all public handlers. Handlers are
// methods so routing stays a plain function table in routes.go.
type API struct {
	engine    *sessions.Engine
	publisher *aggregator.Publisher
}

func New(engine *sessions.Engine, publisher *aggregator.Publisher) *API {
	return &API{
		engine:    engine,
		publisher: publisher,
	}
}

// StartSessionHandler accepts a start signal, enriches it server-side and
// hands it to the engine.
func (a *API) StartSessionHandler(ctx *cartridge.Context) error {
	var sig sessions.StartSignal
	if err := ctx.BodyParser(&sig); err != nil {
		ctx.Logger.Debug("Failed to parse start signal", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	a.enrichStart(ctx, &sig)

	if err := a.engine.HandleStart(&sig); err != nil {
		return handleSignalError(ctx, err)
	}
	return accepted(ctx)
}

// HeartbeatHandler merges a heartbeat into its session.
func (a *API) HeartbeatHandler(ctx *cartridge.Context) error {
	var sig sessions.HeartbeatSignal
	if err := ctx.BodyParser(&sig); err != nil {
		ctx.Logger.Debug("Failed to parse heartbeat signal", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if err := a.engine.HandleHeartbeat(&sig); err != nil {
		return handleSignalError(ctx, err)
	}
	return accepted(ctx)
}

// PageChangeHandler records an in-session navigation.
func (a *API) PageChangeHandler(ctx *cartridge.Context) error {
	var sig sessions.PageChangeSignal
	if err := ctx.BodyParser(&sig); err != nil {
		ctx.Logger.Debug("Failed to parse page-change signal", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if err := a.engine.HandlePageChange(&sig); err != nil {
		return handleSignalError(ctx, err)
	}
	return accepted(ctx)
}

// EndSessionHandler finalizes a session.
func (a *API) EndSessionHandler(ctx *cartridge.Context) error {
	var sig sessions.EndSignal
	if err := ctx.BodyParser(&sig); err != nil {
		ctx.Logger.Debug("Failed to parse end signal", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if err := a.engine.HandleEnd(&sig); err != nil {
		return handleSignalError(ctx, err)
	}
	return accepted(ctx)
}

// EndSessionBeaconHandler handles end signals sent via navigator.sendBeacon.
// Beacons are fire-and-forget on the client, so the response is always 202
// regardless of outcome. Missed ends are compensated by the inactivity sweep.
func (a *API) EndSessionBeaconHandler(ctx *cartridge.Context) error {
	var sig sessions.EndSignal
	if err := json.Unmarshal(ctx.Body(), &sig); err != nil {
		ctx.Logger.Debug("Failed to parse beacon end signal", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	if err := a.engine.HandleEnd(&sig); err != nil {
		ctx.Logger.Debug("Beacon end signal not applied",
			slog.String("session_id", sig.SessionID),
			slog.Any("error", err))
	}
	return ctx.SendStatus(http.StatusAccepted)
}

// enrichStart fills in the attributes the client cannot be trusted with or
// cannot know. The country always comes from the connection's IP; device,
// browser and OS fall back to User-Agent parsing when the client omits them.
func (a *API) enrichStart(ctx *cartridge.Context, sig *sessions.StartSignal) {
	sig.Country = geoip.Country(getClientIP(ctx.Ctx))

	if sig.DeviceType != "" && sig.Browser != "" && sig.OS != "" {
		return
	}

	userAgentHeader := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgentHeader = forwardedUA
	}

	info := useragent.Detect(userAgentHeader)
	if sig.DeviceType == "" {
		sig.DeviceType = info.DeviceType
	}
	if sig.Browser == "" {
		sig.Browser = info.Browser
	}
	if sig.OS == "" {
		sig.OS = info.OperatingSystem
	}
}

func accepted(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgSignalAccepted,
		"status":  http.StatusAccepted,
	})
}

// handleSignalError maps engine errors to transport status codes.
func handleSignalError(ctx *cartridge.Context, err error) error {
	// Excluded paths are acknowledged without recording anything, so the
	// response does not reveal which URLs are filtered.
	var excludedErr *sessions.ExcludedPathError
	if errors.As(err, &excludedErr) {
		ctx.Logger.Debug("Discarded signal for excluded path", slog.String("path", excludedErr.Path))
		return accepted(ctx)
	}

	var unknownErr *sessions.UnknownSessionError
	if errors.As(err, &unknownErr) {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown session",
			"code":  "UNKNOWN_SESSION",
		})
	}

	var endedErr *sessions.SessionEndedError
	if errors.As(err, &endedErr) {
		return ctx.Status(http.StatusConflict).JSON(fiber.Map{
			"error": "Session already ended",
			"code":  "SESSION_ENDED",
		})
	}

	var invalidErr *sessions.InvalidSignalError
	if errors.As(err, &invalidErr) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": invalidErr.Reason,
			"code":  "INVALID_SIGNAL",
		})
	}

	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return ctx.Status(599).JSON(fiber.Map{}) // custom status code
	}

	ctx.Logger.Error("Failed to process signal", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process signal",
		"code":  "PROCESSING_ERROR",
	})
}
