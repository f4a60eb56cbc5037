package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptroom/internal/broadcast"
	"scriptroom/internal/engine"
	"scriptroom/internal/events"
	"scriptroom/internal/execution"
	"scriptroom/internal/session"
	"scriptroom/internal/store"
	"scriptroom/internal/web"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join the room and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML config file")
	return cmd
}

func serve(cfg *Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("scriptroom starting",
		"version", version,
		"participant", cfg.Participant.ID,
		"role", cfg.Participant.Role,
		"room", cfg.Room.ID)

	timeout, err := cfg.timeout()
	if err != nil {
		return err
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	tr, err := initTransport(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer tr.Close()
	logger.Info("joined room", "room", cfg.Room.ID, "as", tr.ParticipantID(), "mqtt", cfg.MQTT.Enabled)

	reg := execution.NewRegistry()
	bus := events.NewBus(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	state, err := session.New(startCtx, session.Options{
		Participant: cfg.participant(),
		Store:       db,
		Metadata:    tr,
		Registry:    reg,
		Bus:         bus,
		Logger:      logger,
	})
	startCancel()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	eng := engine.New(reg, state, bus, logger, engine.Config{
		Timeout:         timeout,
		DefaultLanguage: cfg.Engine.Language,
		Capabilities:    capabilities(state, tr, logger),
	})
	defer shutdownScripts(state, eng)
	state.SetRunner(eng)

	dispatcher := broadcast.NewDispatcher(state, tr, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithValidator(eng.Validate),
		web.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(state, bus, tr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case err := <-errCh:
		logger.Error("http server", "err", err)
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
	return runErr
}

// shutdownScripts stops every running execution while its interpreter is
// still alive, then tears the interpreters down.
func shutdownScripts(state *session.State, eng *engine.Engine) {
	state.Close()
	eng.Close()
}
