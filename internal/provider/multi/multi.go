// Package multi implements a Provider that fans a message out to several providers.
package multi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shineum/contactform/internal/email"
	"github.com/shineum/contactform/internal/provider"
)

// ErrNoProviders is returned by Send when no providers are registered.
var ErrNoProviders = errors.New("no providers configured")

// Provider delivers each message to every registered provider in order.
type Provider struct {
	providers []provider.Provider
}

// New creates a fan-out Provider. Nil providers are skipped.
func New(providers ...provider.Provider) *Provider {
	m := &Provider{}
	for _, p := range providers {
		m.Add(p)
	}
	return m
}

// Add registers another provider. Not safe to call concurrently with Send.
func (m *Provider) Add(p provider.Provider) {
	if p != nil {
		m.providers = append(m.providers, p)
	}
}

// Send calls every provider, even after a failure, and returns the joined
// errors of those that failed.
func (m *Provider) Send(ctx context.Context, msg *email.Email) error {
	if len(m.providers) == 0 {
		return ErrNoProviders
	}

	var errs []error
	for _, p := range m.providers {
		if err := p.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns the provider name, listing the wrapped providers.
func (m *Provider) Name() string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return "multi(" + strings.Join(names, ",") + ")"
}
