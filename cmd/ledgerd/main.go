package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zernach/chainequity-sub000/internal/alert"
	"github.com/Zernach/chainequity-sub000/internal/api"
	"github.com/Zernach/chainequity-sub000/internal/captable"
	"github.com/Zernach/chainequity-sub000/internal/circuitbreaker"
	"github.com/Zernach/chainequity-sub000/internal/config"
	"github.com/Zernach/chainequity-sub000/internal/ledger"
	"github.com/Zernach/chainequity-sub000/internal/reconciliation"
	"github.com/Zernach/chainequity-sub000/internal/store/postgres"
	redispkg "github.com/Zernach/chainequity-sub000/internal/store/redis"
	"github.com/Zernach/chainequity-sub000/internal/tracing"
	"golang.org/x/sync/errgroup"
)

// buildAlerter assembles the alert fan-out from config. No channels
// configured means a noop alerter.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	logger.Info("alerting enabled", "channels", len(channels))
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting ledgerd", "port", cfg.Server.Port)

	shutdownTracing, err := tracing.Init(context.Background(), "chainequity-ledgerd", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	st := postgres.NewStore(db)

	var opts []ledger.Option
	if cfg.Redis.URL != "" {
		stream, err := redispkg.NewStream(cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err, "redis_url", cfg.Redis.URL)
			os.Exit(1)
		}
		defer stream.Close()
		breaker := circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("event stream breaker state changed", "from", from.String(), "to", to.String())
			},
		})
		opts = append(opts, ledger.WithPublisher(ledger.NewBreakerPublisher(stream, breaker)))
		logger.Info("event stream publishing enabled", "redis_url", cfg.Redis.URL)
	}

	alerter := buildAlerter(cfg, logger)

	svc := ledger.New(st, logger, opts...)
	projector := captable.NewProjector(st, logger)
	auditor := reconciliation.NewService(st, alerter, logger)

	limiter := api.NewRateLimiter(logger)
	defer limiter.Stop()

	server := api.NewServer(svc, projector, st, logger,
		api.WithAuditor(auditor),
		api.WithRateLimiter(limiter),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server started", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			err := auditor.RunPeriodic(gCtx, cfg.Reconcile.Interval)
			if err != nil && err != context.Canceled {
				return fmt.Errorf("ledger audit: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
		case <-gCtx.Done():
			return nil
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("api server shutdown error", "error", err)
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("ledgerd exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("ledgerd shut down gracefully")
}
