// Package main is the entry point for the contact form service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/shineum/contactform/internal/config"
	"github.com/shineum/contactform/internal/logging"
	"github.com/shineum/contactform/internal/render"
	"github.com/shineum/contactform/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "path to a .env file loaded before reading the environment (optional)")
	flag.Parse()

	// Load configuration
	store, err := config.NewStore(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := store.Current()

	// Setup structured logging
	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		slog.Error("failed to setup logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	// Select email delivery provider
	prov, err := selectProvider(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to select provider", "error", err)
		os.Exit(1)
	}

	var renderOpts []render.Option
	if cfg.Templates.Dir != "" {
		renderOpts = append(renderOpts, render.WithBaseDir(cfg.Templates.Dir))
	}
	engine, err := render.New(renderOpts...)
	if err != nil {
		slog.Error("failed to setup templates", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	router := web.NewRouter(web.Options{
		Renderer:  engine,
		Provider:  prov,
		Settings:  store,
		RateLimit: rate.Limit(cfg.HTTP.RateLimit),
		RateBurst: cfg.HTTP.RateBurst,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting contactform",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"managers", len(cfg.Mail.Managers),
		"templates_dir", cfg.Templates.Dir,
		"fail_silently", cfg.Mail.FailSilently,
	)

	// Setup graceful shutdown and config reload
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reload(store)
				continue
			}
			slog.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
			return
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}

	slog.Info("contactform stopped")
}

// reload re-reads the env file and the configuration. Mail defaults take
// effect on the next submission; listener, provider and logging settings
// require a restart.
func reload(store *config.Store) {
	if err := store.Reload(); err != nil {
		slog.Error("configuration reload failed, keeping previous configuration", "error", err)
		return
	}
	cfg := store.Current()
	slog.Info("configuration reloaded",
		"default_from_email", cfg.Mail.DefaultFromEmail,
		"managers", len(cfg.Mail.Managers),
		"fail_silently", cfg.Mail.FailSilently,
	)
}
