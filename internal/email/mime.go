package email

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"
)

// Bytes renders the message as an RFC 5322 text/plain message with CRLF line
// endings. Bcc recipients are never written.
func (e *Email) Bytes() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	from := e.From
	date := ""
	if !e.Date.IsZero() {
		date = e.Date.Format(time.RFC1123Z)
	}
	messageID := e.MessageID
	for _, h := range e.Overrides() {
		switch h.Key {
		case HeaderFrom:
			from = h.Value
		case HeaderDate:
			date = h.Value
		case HeaderMessageID:
			messageID = h.Value
		}
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if len(e.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.To, ", "))
	}
	if len(e.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(e.Cc, ", "))
	}
	if replyTo := e.ReplyTo(); replyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", e.Subject))
	if date != "" {
		fmt.Fprintf(&buf, "Date: %s\r\n", date)
	}
	if messageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	}
	for _, h := range e.ExtraHeaders() {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Key, h.Value)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(normalizeNewlines(e.Body))); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	return buf.Bytes(), nil
}

// normalizeNewlines converts bare LF and CR to CRLF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
