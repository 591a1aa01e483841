package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beepshq/beeps/internal/auth"
	"github.com/beepshq/beeps/internal/config"
	"github.com/beepshq/beeps/internal/metrics"
	"github.com/beepshq/beeps/internal/storage"
	"github.com/beepshq/beeps/internal/syncserver"
)

// version is set by the release build; packaging is out of scope here.
const version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "beeps-server",
		Short:         "Beeps sync service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	config.Flags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beeps-server: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting beeps-server",
		zap.String("bind", cfg.Bind),
		zap.Bool("allow_registration", cfg.AllowRegistration),
		zap.String("log_level", string(cfg.LogLevel)))

	if err := storage.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("schema migration failed", zap.Error(err))
		return err
	}
	logger.Info("schema migrations applied")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", zap.Error(err))
		return err
	}
	defer store.Close()
	logger.Info("storage connected")

	m := metrics.NewMetrics("beeps")
	authSvc := auth.New(store, cfg.JWTSecret, cfg.AllowRegistration, logger)
	srv := syncserver.New(store, authSvc, logger, m)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", srv.Router())

	httpServer := &http.Server{
		Addr:    cfg.Bind,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Bind))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Error("http server failed", zap.Error(err))
		return err
	case <-sigCh:
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// newLogger builds a *zap.Logger for --log-level: "trace" maps to
// DebugLevel (zap has no lower level) and "off" installs a core that
// discards every entry rather than mapping to any real zapcore.Level.
func newLogger(level config.LogLevel) (*zap.Logger, error) {
	if level == config.LogOff {
		return zap.New(zapcore.NewNopCore()), nil
	}

	zapLevel, err := zapLevelFor(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}

func zapLevelFor(level config.LogLevel) (zapcore.Level, error) {
	switch level {
	case config.LogError:
		return zapcore.ErrorLevel, nil
	case config.LogWarn:
		return zapcore.WarnLevel, nil
	case config.LogInfo:
		return zapcore.InfoLevel, nil
	case config.LogDebug, config.LogTrace:
		return zapcore.DebugLevel, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", level)
	}
}
