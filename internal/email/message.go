// Package email defines the outbound message model handed to delivery providers.
package email

import (
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical keys of headers with special handling.
const (
	HeaderReplyTo   = "Reply-To"
	HeaderFrom      = "From"
	HeaderDate      = "Date"
	HeaderMessageID = "Message-Id"
)

// overridable lists the headers whose Headers entry replaces the value the
// message would otherwise write, in output order.
var overridable = []string{HeaderFrom, HeaderDate, HeaderMessageID}

var (
	// ErrHeaderInjection is returned when a header name or value would break
	// out of its header line.
	ErrHeaderInjection = errors.New("header contains line break")

	// ErrReservedHeader is returned when Headers sets a header that the
	// message structure owns, such as To or Content-Type.
	ErrReservedHeader = errors.New("header is reserved")
)

// Email represents a composed message ready for delivery.
type Email struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string

	// Headers holds extra headers such as Reply-To. Nil means none.
	Headers map[string]string

	MessageID string
	Date      time.Time
}

// ReplyTo returns the Reply-To header value, or empty string if unset.
// Header keys are matched case-insensitively.
func (e *Email) ReplyTo() string {
	for k, v := range e.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == HeaderReplyTo {
			return v
		}
	}
	return ""
}

// ExtraHeaders returns the headers other than Reply-To and the overrides,
// sorted by canonical key.
func (e *Email) ExtraHeaders() []Header {
	var out []Header
	for k, v := range e.Headers {
		key := textproto.CanonicalMIMEHeaderKey(k)
		if key == HeaderReplyTo || isOverridable(key) {
			continue
		}
		out = append(out, Header{Key: key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Overrides returns the From, Date and Message-Id entries of Headers. They
// replace the values derived from the From, Date and MessageID fields.
func (e *Email) Overrides() []Header {
	var out []Header
	for _, key := range overridable {
		if v, ok := e.header(key); ok {
			out = append(out, Header{Key: key, Value: v})
		}
	}
	return out
}

func (e *Email) header(key string) (string, bool) {
	for k, v := range e.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == key {
			return v, true
		}
	}
	return "", false
}

func isOverridable(key string) bool {
	for _, k := range overridable {
		if k == key {
			return true
		}
	}
	return false
}

// isReserved reports whether a canonical header key is written from the
// message fields and may not be set through Headers.
func isReserved(key string) bool {
	switch key {
	case "To", "Cc", "Bcc", "Subject", "Mime-Version":
		return true
	}
	return strings.HasPrefix(key, "Content-")
}

// Header is a single key/value header pair.
type Header struct {
	Key   string
	Value string
}

// Recipients returns To, Cc and Bcc combined in that order.
func (e *Email) Recipients() []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	all = append(all, e.To...)
	all = append(all, e.Cc...)
	all = append(all, e.Bcc...)
	return all
}

// Validate checks that the message can be delivered safely.
func (e *Email) Validate() error {
	if len(e.Recipients()) == 0 {
		return errors.New("message has no recipients")
	}
	if hasLineBreak(e.From) {
		return fmt.Errorf("from address: %w", ErrHeaderInjection)
	}
	if hasLineBreak(e.Subject) {
		return fmt.Errorf("subject: %w", ErrHeaderInjection)
	}
	for _, addr := range e.Recipients() {
		if hasLineBreak(addr) {
			return fmt.Errorf("recipient %q: %w", addr, ErrHeaderInjection)
		}
	}
	for k, v := range e.Headers {
		if hasLineBreak(k) || hasLineBreak(v) {
			return fmt.Errorf("header %q: %w", k, ErrHeaderInjection)
		}
		if isReserved(textproto.CanonicalMIMEHeaderKey(k)) {
			return fmt.Errorf("header %q: %w", k, ErrReservedHeader)
		}
	}
	return nil
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// NewMessageID returns a unique Message-ID using the domain of from, or
// "localhost" when from has no domain.
func NewMessageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if _, d, ok := strings.Cut(addr.Address, "@"); ok && d != "" {
			domain = d
		}
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
