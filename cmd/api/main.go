package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sahl-financial/sahl_api/internal/attempt"
	"github.com/sahl-financial/sahl_api/internal/client"
	"github.com/sahl-financial/sahl_api/internal/config"
	"github.com/sahl-financial/sahl_api/internal/driver"
	"github.com/sahl-financial/sahl_api/internal/infra"
	"github.com/sahl-financial/sahl_api/internal/logging"
	"github.com/sahl-financial/sahl_api/internal/notification"
	"github.com/sahl-financial/sahl_api/internal/routes"
	"github.com/sahl-financial/sahl_api/internal/scrape"
	"github.com/sahl-financial/sahl_api/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close(logger)

	journal, clients, err := openRegistries(ctx, stores)
	if err != nil {
		return err
	}
	if err := clients.Seed(ctx, cfg.APIClients); err != nil {
		return fmt.Errorf("seed api clients: %w", err)
	}
	if len(cfg.APIClients) == 0 && stores.DB == nil {
		logger.Warn("no API_CLIENTS configured, every scrape request will be rejected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := scrape.NewMetrics(reg)

	store := scrape.NewStore(logger, scrape.WithMetrics(metrics))
	launcher := driver.ChromeLauncher{
		Headless:      cfg.Browser.Headless,
		ExecPath:      cfg.Browser.ExecPath,
		ActionTimeout: cfg.Scrape.ControlTimeout,
	}
	machine := scrape.NewMachine(launcher, scrape.DefaultPortal(cfg.Scrape.PortalURL), scrape.TimingFromConfig(cfg.Scrape), logger,
		scrape.WithMachineMetrics(metrics))
	notifier := notification.NewLoggerNotifier(logger)
	engine := scrape.NewEngine(store, machine, logger,
		scrape.WithRecorder(journal),
		scrape.WithNotifier(notifier),
		scrape.WithLockWait(cfg.Scrape.LockWait),
	)
	reaper := scrape.NewReaper(store, cfg.Scrape.ReaperInterval, cfg.Scrape.IdleTimeout, notifier, logger)

	srv, err := server.New(cfg, routes.Deps{
		DB:       stores.DB,
		Cache:    stores.Cache,
		Logger:   logger,
		Engine:   engine,
		Journal:  journal,
		Clients:  clients,
		Registry: reg,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Listen)
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "active_sessions", store.Len())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// No browser may outlive the process.
		store.Close(shutdownCtx)
		return err
	})
	return g.Wait()
}

func openRegistries(ctx context.Context, stores infra.Stores) (*attempt.Journal, *client.Service, error) {
	if stores.DB == nil {
		return attempt.NewJournal(attempt.NewMemoryRepository()),
			client.NewService(client.NewMemoryRepository()), nil
	}

	attempts := attempt.NewPostgresRepository(stores.DB)
	if err := attempts.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	clients := client.NewPostgresRepository(stores.DB)
	if err := clients.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	return attempt.NewJournal(attempts), client.NewService(clients), nil
}
