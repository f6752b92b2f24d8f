package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lcalzada-xor/devicenames/internal/adapters/remote"
	"github.com/lcalzada-xor/devicenames/internal/adapters/storage"
	webserver "github.com/lcalzada-xor/devicenames/internal/adapters/web/server"
	"github.com/lcalzada-xor/devicenames/internal/config"
	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
	"github.com/lcalzada-xor/devicenames/internal/core/services/devicenames"
	"github.com/lcalzada-xor/devicenames/internal/telemetry"
)

// Version is overridden at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// Application holds the core components of the application.
// It owns the single Resolver shared by every caller in the process.
type Application struct {
	Config    *config.Config
	Store     ports.RecordStore
	Fetcher   ports.Fetcher
	Resolver  *devicenames.Resolver
	WebServer *webserver.Server

	logger *slog.Logger
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	return newApplication(cfg, logger, nil)
}

func newApplication(cfg *config.Config, logger *slog.Logger, fetcher ports.Fetcher) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		Config:  cfg,
		Fetcher: fetcher,
		logger:  logger,
	}

	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	store, err := openStore(app.Config)
	if err != nil {
		return err
	}
	app.Store = store

	if app.Fetcher == nil {
		app.Fetcher = remote.NewHTTPFetcher(app.Config.FetchTimeout, "devicenames/"+Version)
	}

	opts := []devicenames.Option{
		devicenames.WithURL(app.Config.URL),
		devicenames.WithObserver(telemetry.NewMetricsObserver()),
		devicenames.WithLogger(app.logger.With("component", "resolver")),
	}
	if app.Config.RejectEmpty {
		opts = append(opts, devicenames.WithRejectEmptyTable())
	}
	app.Resolver = devicenames.New(app.Fetcher, app.Store, opts...)

	if rec, ok := app.Resolver.Snapshot(); ok {
		telemetry.RecordLoadedTable(rec)
	}

	app.WebServer = webserver.NewServer(app.Config.Addr, app.Resolver, app.logger.With("component", "web"))
	return nil
}

func openStore(cfg *config.Config) (ports.RecordStore, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return storage.NewSQLiteStore(cfg.DBPath)
	case config.StoreFile:
		return storage.NewFileStore(cfg.CachePath)
	case config.StoreMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Run serves the HTTP API until ctx is cancelled. A stale table is
// refreshed in the background right away, and then checked again every
// WarmInterval.
func (app *Application) Run(ctx context.Context) error {
	app.Resolver.RefreshIfStale()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.WebServer.Run(gctx)
	})
	if app.Config.WarmInterval > 0 {
		g.Go(func() error {
			app.warm(gctx, app.Config.WarmInterval)
			return nil
		})
	}

	err := g.Wait()
	app.Resolver.Wait()
	return err
}

func (app *Application) warm(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if app.Resolver.RefreshIfStale() {
				app.logger.Debug("Device table stale, refresh started")
			}
		}
	}
}

// ResolveAll writes "identifier<TAB>name" for each id to w. With sync set,
// the table is refreshed first (when stale) and the lookups wait for it.
func (app *Application) ResolveAll(ctx context.Context, w io.Writer, ids []string, sync bool) error {
	if sync && app.Resolver.IsStale() {
		if err := app.Resolver.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrRefreshInProgress) {
			app.logger.Warn("Refresh failed, using cached table", "error", err)
		}
	}

	for _, id := range ids {
		name, known := app.Resolver.Lookup(id)
		telemetry.RecordLookup(known)
		if _, err := fmt.Fprintf(w, "%s\t%s\n", id, name); err != nil {
			return err
		}
	}

	// Let a refresh triggered by the lookups finish so it gets persisted.
	app.Resolver.Wait()
	return nil
}

// Close releases the store.
func (app *Application) Close() error {
	if app.Store == nil {
		return nil
	}
	return app.Store.Close()
}
