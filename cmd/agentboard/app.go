package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/intake"
	"github.com/c360studio/agentboard/kernel"
	"github.com/c360studio/agentboard/notify"
	"github.com/c360studio/agentboard/project"
	"github.com/c360studio/agentboard/router"
	"github.com/c360studio/agentboard/store"
)

// App wires the orchestrator together: store, change stream, kernel,
// and the supporting services.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	watcher  *store.Watcher
	bus      *events.Bus
	mirror   *events.Mirror
	notifier *notify.Notifier
	kernel   *kernel.Kernel
	projects *project.Service
	intake   *intake.Extractor
}

// NewApp creates and wires the application.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.New(cfg.Data.Root, cfg.Data.EventCap, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := events.NewBus(logger)
	var mirror *events.Mirror
	if cfg.Stream.NATSURL != "" {
		mirror, err = events.NewMirror(cfg.Stream.NATSURL, cfg.Stream.Subject, logger)
		if err != nil {
			// The mirror is an optional surface; the orchestrator runs
			// without it.
			logger.Warn("NATS mirror unavailable", "url", cfg.Stream.NATSURL, "error", err)
		} else {
			bus.AttachMirror(mirror)
			logger.Info("Change stream mirrored to NATS",
				"url", cfg.Stream.NATSURL, "subject", cfg.Stream.Subject)
		}
	}

	notifier := notify.New(logger)
	kern, err := kernel.New(cfg, st, bus, notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize kernel: %w", err)
	}

	watcher, err := store.NewWatcher(st, 500*time.Millisecond, logger)
	if err != nil {
		logger.Warn("Data watcher unavailable", "error", err)
		watcher = nil
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		watcher:  watcher,
		bus:      bus,
		mirror:   mirror,
		notifier: notifier,
		kernel:   kern,
		projects: project.NewService(st, bus, logger),
		intake:   intake.NewExtractor(cfg, router.New(nil), logger),
	}, nil
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.watcher != nil {
		go a.watcher.Start(ctx)
		go a.forwardWatchEvents(ctx)
	}

	a.logger.Info("Agentboard started",
		"data_root", a.cfg.Data.Root,
		"workers", len(a.cfg.Workers.Pool),
		"dispatch_enabled", a.cfg.Dispatch.Enabled)

	a.kernel.Start(ctx)

	a.shutdown()
	return nil
}

// forwardWatchEvents turns out-of-band document edits into reload
// envelopes so stream consumers refetch.
func (a *App) forwardWatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.watcher.Events():
			if !ok {
				return
			}
			a.logger.Info("Document changed on disk", "path", ev.Path, "project_id", ev.ProjectID)
			a.bus.Publish(events.NewReloadEnvelope(ev.ProjectID, ev.Path))
		}
	}
}

func (a *App) shutdown() {
	a.logger.Info("Shutting down")
	if a.mirror != nil {
		a.mirror.Close()
	}
}
