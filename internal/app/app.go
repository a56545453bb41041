// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/config"
	"github.com/openhkarchive/mingpao-archiver/internal/iaclient"
	"github.com/openhkarchive/mingpao-archiver/internal/ledger"
	"github.com/openhkarchive/mingpao-archiver/internal/logging"
)

// App holds the shared services: logger, ledger, and IA client. It is built
// once at startup and passed to the command implementations.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Ledger *ledger.Ledger
	IA     *iaclient.Client
}

// New loads configuration and initializes every service, failing fast when
// any of them cannot start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	led, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	ia := iaclient.New(iaclient.Config{
		Endpoint:      cfg.IA.Endpoint,
		AccessKey:     cfg.IA.AccessKey,
		SecretKey:     cfg.IA.SecretKey,
		UploadRetries: cfg.Archive.MaxRetries,
	}, logger.Named("iaclient"))

	return &App{
		Config: cfg,
		Logger: logger,
		Ledger: led,
		IA:     ia,
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if err := a.Ledger.Close(); err != nil {
		a.Logger.Warn("close ledger", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
