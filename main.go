package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/web-casa/stackdeck/internal/auth"
	"github.com/web-casa/stackdeck/internal/config"
	"github.com/web-casa/stackdeck/internal/database"
	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/handler"
	"github.com/web-casa/stackdeck/internal/metrics"
	"github.com/web-casa/stackdeck/internal/runner"
	"github.com/web-casa/stackdeck/internal/service"
	"github.com/web-casa/stackdeck/internal/session"
	"github.com/web-casa/stackdeck/internal/stack"
)

var version = "dev"

const (
	sweepInterval   = time.Minute
	throttleIdle    = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "stackdeck",
		Short:        "Web management for Docker containers and compose stacks",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "stackdeck", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var port, stackRoot string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			if stackRoot != "" {
				cfg.StackRoot = stackRoot
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides STACKDECK_PORT)")
	cmd.Flags().StringVar(&stackRoot, "stack-root", "", "default stack root when config.json has none")
	return cmd
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}
	db, err := database.Init(cfg.DBPath)
	if err != nil {
		return err
	}

	m := metrics.New()

	store := auth.NewStore(db, auth.NewTokenIssuer(cfg.JWTSecret), logger.With("module", "auth"))
	limiter := auth.NewLimiter(auth.DefaultLimit, auth.DefaultWindow, m)
	throttle := auth.NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst)
	go limiter.Run(ctx, sweepInterval)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				throttle.Forget(throttleIdle)
			}
		}
	}()

	settings, err := config.NewSettingsStore(cfg.SettingsPath, config.DefaultSettings(cfg.StackRoot), logger.With("module", "config"))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Watch(ctx); err != nil {
		logger.Warn("settings hot reload disabled", "err", err)
	}

	engine, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		logger.Warn("docker engine unreachable, resource endpoints will fail until it is up", "host", cfg.DockerHost, "err", err)
	}

	run := runner.New(cfg.DockerBin, cfg.KillGrace, logger.With("module", "runner"), m)
	registry := stack.NewRegistry(settings, logger.With("module", "stack"))
	sessions := session.NewManager(engine, run, registry, cfg.MaxSessions, m, logger.With("module", "session"))
	go sessions.Run(ctx, sweepInterval, cfg.SessionMaxAge)

	router := handler.NewRouter(handler.Deps{
		DB:        db,
		Settings:  settings,
		Auth:      store,
		Limiter:   limiter,
		Throttle:  throttle,
		Stacks:    registry,
		Compose:   service.NewComposeService(registry, run, cfg.ComposeTimeout, logger.With("module", "compose")),
		Resources: service.NewResourceService(engine, logger.With("module", "resource")),
		Sessions:  sessions,
		Metrics:   m,
		Logger:    logger.With("module", "http"),
		StaticDir: cfg.StaticDir,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("stackdeck starting", "addr", srv.Addr, "version", version,
			"data_dir", cfg.DataDir, "stack_root", settings.StackRoot())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Hijacked WebSocket connections are not tracked by Shutdown.
	sessions.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
