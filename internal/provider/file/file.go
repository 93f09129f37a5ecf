// Package file implements a Provider that appends rendered messages to a log file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shineum/contactform/internal/email"
)

// Provider appends each message, framed by marker lines, to a single file.
type Provider struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a file Provider, creating the parent directory if needed.
func New(path string) (*Provider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("email log file path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for email log file %q: %w", dir, err)
	}

	return &Provider{path: path, now: time.Now}, nil
}

// Send appends the RFC 5322 rendering of msg to the log file.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- Email logged at %s (To: %s, Subject: %s) ---\n",
		p.now().UTC().Format(time.RFC3339Nano),
		strings.Join(msg.To, ", "),
		msg.Subject,
	)
	b.Write(raw)
	b.WriteString("\n--- End logged email ---\n\n")

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open email log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write email to log file: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "file"
}
