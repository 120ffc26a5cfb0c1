package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coah80/enhancer/internal/alerts"
	"github.com/coah80/enhancer/internal/config"
	"github.com/coah80/enhancer/internal/jobs"
	"github.com/coah80/enhancer/internal/logging"
	"github.com/coah80/enhancer/internal/metrics"
	"github.com/coah80/enhancer/internal/middleware"
	"github.com/coah80/enhancer/internal/routes"
	"github.com/coah80/enhancer/internal/server"
	"github.com/coah80/enhancer/internal/services"
	"github.com/coah80/enhancer/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(sigCtx, cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(os.Stdout, cfg.EnvMode, cfg.LogLevel, cfg.LogFormat)
	server.PrintBanner()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store := storage.NewLocal(cfg.UploadDir, cfg.ProcessedDir, cfg.AllowedExtensions, logger)
	if err := store.Prepare(); err != nil {
		return err
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	deps := services.CheckDependencies(ctx, cfg.FFmpegPath, cfg.FFprobePath)
	for _, d := range deps {
		ev := logger.Info()
		if !d.Found {
			ev = logger.Warn()
		}
		ev.Str("binary", d.Name).Bool("found", d.Found).Bool("required", d.Required).Str("path", d.Path).Msg("dependency check")
	}
	if missing := services.MissingRequired(deps); len(missing) > 0 {
		logger.Error().Strs("missing", missing).Msg("runs will fail until the encoder is installed")
	}

	registry, err := jobs.Open(ctx, cfg.Registry)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer registry.Close()

	notifier, err := alerts.New(cfg.Discord, logger)
	if err != nil {
		return err
	}

	pool := services.NewWorkerPool(
		services.WithWorkers(cfg.MaxConcurrentRuns),
		services.WithQueueSize(cfg.QueueSize),
		services.WithPoolLogger(logging.Component(logger, "pool")),
	)
	runner := services.NewRunner(cfg.FFmpegPath, services.NewProber(cfg.FFprobePath),
		services.WithReporter(services.NewPollingReporter(cfg.PollInterval())),
		services.WithRunnerLogger(logging.Component(logger, "runner")),
	)
	observer := metrics.New(pool.Stats)

	mgrOpts := []services.ManagerOption{
		services.WithRunTimeout(cfg.RunTimeout()),
		services.WithMaxScale(cfg.MaxScale),
		services.WithObserver(observer),
		services.WithManagerLogger(logging.Component(logger, "jobs")),
		services.WithInstanceID(cfg.Registry.Instance),
	}
	if notifier != nil {
		mgrOpts = append(mgrOpts, services.WithNotifier(notifier))
	}
	if cfg.Mirror.Enabled() {
		mirror, err := storage.NewObjectMirror(ctx, cfg.Mirror, logger)
		if err != nil {
			return err
		}
		mgrOpts = append(mgrOpts, services.WithMirror(mirror))
	}
	manager := services.NewManager(registry, store, runner, pool, mgrOpts...)

	recovered, err := manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	notifier.RunsInterrupted(recovered)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Max > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window())
	}

	api := &routes.API{Manager: manager, Config: cfg, Logger: logging.Component(logger, "http")}
	if notifier != nil {
		api.LowDisk = notifier.DiskSpaceLow
	}

	srv := server.New(server.Options{
		Config:  cfg,
		API:     api,
		Metrics: observer,
		Limiter: limiter,
		Logger:  logging.Component(logger, "http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("registry", cfg.Registry.Backend).Msg("listening")
		notifier.ServerStarted(config.Version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.RunCleanup(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(srv, manager, notifier, logger)
	})

	return g.Wait()
}

func shutdown(srv *http.Server, manager *services.Manager, notifier *alerts.Discord, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down")
	notifier.ServerStopping()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
	}
	return errors.Join(errs...)
}
