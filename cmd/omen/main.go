// Package main is the entry point for the OMEN gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghostkellz/omen"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/secret"
	"github.com/ghostkellz/omen/internal/secret/env"
	"github.com/ghostkellz/omen/internal/secret/vault"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootLogger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel("info"),
		JSONFormat: true,
	}, observability.NewRedactor()).Slog()

	manager, err := config.NewManager(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer manager.Close()

	cfg := manager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor()).Slog()

	logger.Info("starting omen gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}
	manager.OnChange(func(*config.Config) {
		logger.Info("configuration reloaded; provider changes take effect on restart")
	})

	secrets := secret.NewManager()
	secrets.Register("env", env.New())
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		vp, err := vault.New(vault.Config{
			Address:    addr,
			AuthMethod: "token",
			Token:      os.Getenv("VAULT_TOKEN"),
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("vault secrets disabled", "error", err)
		} else {
			secrets.Register("vault", secret.NewCachedProvider(vp, 5*time.Minute))
		}
	}

	gw, err := omen.New(
		omen.WithConfig(cfg),
		omen.WithLogger(logger),
		omen.WithSecretManager(secrets),
	)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
