// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/coder/quartz"
	"github.com/karloscodes/cartridge"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/aggregator"
	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/jobs"
	"sitepulse/internal/sessions"
)

// Application wraps cartridge.Application with sitepulse-specific components.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Engine    *sessions.Engine
	Publisher *aggregator.Publisher
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Wall clock in production; tests inject a mock through sessions.NewEngine
	// directly.
	engine := sessions.NewEngine(dbManager, logger, quartz.NewReal(), cfg)
	publisher := aggregator.NewPublisher()
	collector := aggregator.NewCollector(dbManager, engine, logger)

	scheduler, err := jobs.NewScheduler(dbManager, engine, collector, publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize background jobs: %w", err)
	}

	api := v1.New(engine, publisher)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, api)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Engine:      engine,
		Publisher:   publisher,
	}, nil
}
