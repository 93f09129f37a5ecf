// Package contact turns validated form submissions into outbound emails.
//
// A Composer pairs a validated form with a template renderer, a mail provider
// and the process-wide mail settings. Each step of composing the message
// (context, subject, body, headers, recipients, sender) is exposed as a
// method, and the steps that vary between forms can be replaced through
// hooks on Options.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/contactform/internal/email"
	"github.com/shineum/contactform/internal/provider"
)

// Default template names, resolved by the Renderer.
const (
	DefaultSubjectTemplate = "contact_form/email_subject.txt"
	DefaultMessageTemplate = "contact_form/email_template.txt"
)

// RequestKey is the context key holding the submitting *http.Request.
const RequestKey = "request"

// ErrInvalidState is returned when an email is composed from a form that has
// not been successfully validated.
var ErrInvalidState = errors.New("cannot generate context when form is invalid")

// ErrDispatch wraps errors returned by the mail provider.
var ErrDispatch = errors.New("mail dispatch failed")

// Validatable is a form that can report its validity and cleaned values.
type Validatable interface {
	IsValid() bool
	CleanedData() map[string]any
}

// Renderer renders a named template with a context.
type Renderer interface {
	Render(name string, ctx map[string]any) (string, error)
}

// Settings supplies the process-wide mail defaults. It is consulted on every
// call so that reloaded configuration takes effect immediately.
type Settings interface {
	DefaultFromEmail() string
	ManagerAddresses() []string
}

// EmailComposable is the capability of building and sending an email from a
// validated form.
type EmailComposable interface {
	Context() (map[string]any, error)
	Subject() (string, error)
	Message() (string, error)
	EmailHeaders() (map[string]string, error)
	RecipientList() []string
	FromEmail() string
	MessageDict() (MessageDict, error)
	SendEmail(ctx context.Context, r *http.Request, failSilently bool) (bool, error)
}

// Options configures a Composer.
type Options struct {
	Renderer Renderer
	Provider provider.Provider
	Settings Settings

	// SubjectTemplate and MessageTemplate default to DefaultSubjectTemplate
	// and DefaultMessageTemplate.
	SubjectTemplate string
	MessageTemplate string

	// Headers returns extra message headers. A nil map means none.
	Headers func(c *Composer) (map[string]string, error)
	// Recipients replaces the managers from Settings.
	Recipients func(c *Composer) []string
	// FromEmail replaces the default sender from Settings.
	FromEmail func(c *Composer) string
}

// Composer implements EmailComposable for a single form submission. It is not
// safe for concurrent use.
type Composer struct {
	form    Validatable
	opts    Options
	request *http.Request
	now     func() time.Time
}

var _ EmailComposable = (*Composer)(nil)

// NewComposer creates a Composer for form.
func NewComposer(form Validatable, opts Options) *Composer {
	if opts.SubjectTemplate == "" {
		opts.SubjectTemplate = DefaultSubjectTemplate
	}
	if opts.MessageTemplate == "" {
		opts.MessageTemplate = DefaultMessageTemplate
	}
	return &Composer{form: form, opts: opts, now: time.Now}
}

// Form returns the form being composed.
func (c *Composer) Form() Validatable {
	return c.form
}

// Request returns the request stored by SendEmail or SetRequest.
func (c *Composer) Request() *http.Request {
	return c.request
}

// SetRequest stores the request exposed to templates under RequestKey.
func (c *Composer) SetRequest(r *http.Request) {
	c.request = r
}

// Context returns the cleaned form data plus the stored request under
// RequestKey. It returns ErrInvalidState unless the form is valid.
func (c *Composer) Context() (map[string]any, error) {
	if c.form == nil || !c.form.IsValid() {
		return nil, ErrInvalidState
	}
	cleaned := c.form.CleanedData()
	ctx := make(map[string]any, len(cleaned)+1)
	for k, v := range cleaned {
		ctx[k] = v
	}
	// Templates test the key for truth; a typed nil would not be falsy.
	ctx[RequestKey] = nil
	if c.request != nil {
		ctx[RequestKey] = c.request
	}
	return ctx, nil
}

// Subject renders the subject template and removes every line break so the
// result is a single header line.
func (c *Composer) Subject() (string, error) {
	subject, err := c.render(c.opts.SubjectTemplate)
	if err != nil {
		return "", err
	}
	return StripLineBreaks(subject), nil
}

// Message renders the body template.
func (c *Composer) Message() (string, error) {
	return c.render(c.opts.MessageTemplate)
}

func (c *Composer) render(name string) (string, error) {
	ctx, err := c.Context()
	if err != nil {
		return "", err
	}
	if c.opts.Renderer == nil {
		return "", errors.New("contact: no renderer configured")
	}
	out, err := c.opts.Renderer.Render(name, ctx)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// EmailHeaders returns the extra headers from the Headers hook, or nil.
func (c *Composer) EmailHeaders() (map[string]string, error) {
	if c.opts.Headers == nil {
		return nil, nil
	}
	return c.opts.Headers(c)
}

// RecipientList returns the recipients from the Recipients hook, or else the
// configured managers' addresses in order.
func (c *Composer) RecipientList() []string {
	if c.opts.Recipients != nil {
		return c.opts.Recipients(c)
	}
	if c.opts.Settings == nil {
		return nil
	}
	return c.opts.Settings.ManagerAddresses()
}

// FromEmail returns the sender from the FromEmail hook, or else the
// configured default sender.
func (c *Composer) FromEmail() string {
	if c.opts.FromEmail != nil {
		return c.opts.FromEmail(c)
	}
	if c.opts.Settings == nil {
		return ""
	}
	return c.opts.Settings.DefaultFromEmail()
}

// MessageDict assembles the message fields. Headers is set only when
// EmailHeaders returns a non-nil map.
func (c *Composer) MessageDict() (MessageDict, error) {
	subject, err := c.Subject()
	if err != nil {
		return MessageDict{}, err
	}
	body, err := c.Message()
	if err != nil {
		return MessageDict{}, err
	}
	headers, err := c.EmailHeaders()
	if err != nil {
		return MessageDict{}, fmt.Errorf("email headers: %w", err)
	}

	d := MessageDict{
		FromEmail: c.FromEmail(),
		To:        c.RecipientList(),
		Subject:   subject,
		Body:      body,
	}
	if headers != nil {
		d.Headers = headers
	}
	return d, nil
}

// SendEmail stores r, composes the message and dispatches it once. It reports
// whether a message was handed to the provider successfully.
//
// Composition errors are always returned. Dispatch errors are returned unless
// failSilently is set, in which case they are logged and SendEmail returns
// false with a nil error. A message with no recipients is not dispatched.
func (c *Composer) SendEmail(ctx context.Context, r *http.Request, failSilently bool) (bool, error) {
	c.request = r

	d, err := c.MessageDict()
	if err != nil {
		return false, err
	}

	if len(d.To) == 0 {
		slog.Warn("contact email has no recipients, not sending", "subject", d.Subject)
		return false, nil
	}

	msg := d.Email()
	msg.Date = c.now()
	msg.MessageID = email.NewMessageID(msg.From)
	if err := msg.Validate(); err != nil {
		return false, fmt.Errorf("compose message: %w", err)
	}

	if err := c.dispatch(ctx, msg); err != nil {
		if failSilently {
			slog.Warn("contact email dispatch failed",
				"error", err,
				"recipients", len(msg.To),
			)
			return false, nil
		}
		return false, err
	}

	slog.Info("contact email sent",
		"message_id", msg.MessageID,
		"recipients", len(msg.To),
	)
	return true, nil
}

func (c *Composer) dispatch(ctx context.Context, msg *email.Email) error {
	if c.opts.Provider == nil {
		return fmt.Errorf("%w: no mail provider configured", ErrDispatch)
	}
	if err := c.opts.Provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send via %s: %w", ErrDispatch, c.opts.Provider.Name(), err)
	}
	return nil
}

// MessageDict holds the fields of one outbound message.
type MessageDict struct {
	FromEmail string
	To        []string
	Subject   string
	Body      string
	// Headers is nil when the form adds no headers.
	Headers map[string]string
}

// Email converts d into a message for a provider.
func (d MessageDict) Email() *email.Email {
	return &email.Email{
		From:    d.FromEmail,
		To:      append([]string(nil), d.To...),
		Subject: d.Subject,
		Body:    d.Body,
		Headers: d.Headers,
	}
}

// StripLineBreaks removes every character that splits a line, preserving all
// others.
func StripLineBreaks(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			return -1
		}
		return r
	}, s)
}
