// Package smtp implements a Provider that relays emails through an SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"time"

	"github.com/shineum/contactform/internal/email"
)

// defaultTimeout bounds dialing when the context carries no deadline.
const defaultTimeout = 30 * time.Second

// Config holds the relay connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Provider delivers messages to an SMTP relay. STARTTLS is used whenever the
// server offers it; PLAIN auth is used when credentials are configured.
type Provider struct {
	host      string
	addr      string
	auth      netsmtp.Auth
	tlsConfig *tls.Config
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New creates an SMTP Provider for the given relay.
func New(cfg Config) *Provider {
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	p := &Provider{
		host:      cfg.Host,
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		dial:      (&net.Dialer{Timeout: defaultTimeout}).DialContext,
	}
	if cfg.Username != "" && cfg.Password != "" {
		p.auth = netsmtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return p
}

// Send delivers msg in a single SMTP transaction.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := netsmtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(p.tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if p.auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("server %s does not support AUTH", p.addr)
		}
		if err := client.Auth(p.auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Debug("smtp quit failed", "error", err)
	}

	slog.Info("email relayed via SMTP",
		"relay", p.addr,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
