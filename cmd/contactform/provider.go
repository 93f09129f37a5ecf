package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/contactform/internal/config"
	"github.com/shineum/contactform/internal/provider"
	"github.com/shineum/contactform/internal/provider/file"
	"github.com/shineum/contactform/internal/provider/graph"
	"github.com/shineum/contactform/internal/provider/multi"
	"github.com/shineum/contactform/internal/provider/ses"
	"github.com/shineum/contactform/internal/provider/smtp"
	"github.com/shineum/contactform/internal/provider/stdout"
)

// selectProvider chooses the email delivery backend based on configuration.
// Several comma-separated names fan out to every backend. With no name set,
// it falls back to auto-detection (Graph, then SES, then SMTP, else stdout).
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	names := cfg.Providers()

	if len(names) == 0 {
		switch {
		case cfg.GraphConfigured():
			slog.Info("using Microsoft Graph provider (auto-detected)", "sender", cfg.Graph.Sender)
			return newProvider(ctx, cfg, "graph")
		case cfg.SESConfigured():
			slog.Info("using AWS SES provider (auto-detected)", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
			return newProvider(ctx, cfg, "ses")
		case cfg.SMTPConfigured():
			slog.Info("using SMTP relay provider (auto-detected)", "host", cfg.SMTP.Host)
			return newProvider(ctx, cfg, "smtp")
		default:
			slog.Info("no provider configured, using stdout provider")
			return stdout.New(), nil
		}
	}

	if len(names) == 1 {
		return newProvider(ctx, cfg, names[0])
	}

	fanout := multi.New()
	for _, name := range names {
		p, err := newProvider(ctx, cfg, name)
		if err != nil {
			return nil, err
		}
		fanout.Add(p)
	}
	slog.Info("using fan-out provider", "providers", fanout.Name())
	return fanout, nil
}

func newProvider(ctx context.Context, cfg *config.Config, name string) (provider.Provider, error) {
	switch name {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			Authority:    cfg.Graph.Authority,
			Scope:        cfg.Graph.Scope,
			Timeout:      cfg.Graph.Timeout,
		}), nil

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("SMTP provider selected but SMTP_HOST is required")
		}
		slog.Info("using SMTP relay provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"auth", cfg.SMTP.Username != "",
		)
		return smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}), nil

	case "file":
		if cfg.File.Path == "" {
			return nil, errors.New("file provider selected but MAIL_LOG_FILE is required")
		}
		slog.Info("using file provider", "path", cfg.File.Path)
		p, err := file.New(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file provider: %w", err)
		}
		return p, nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
