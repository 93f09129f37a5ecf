// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"strings"

	"github.com/shineum/contactform/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject                string           `json:"subject"`
	Body                   messageBody      `json:"body"`
	ToRecipients           []recipient      `json:"toRecipients"`
	CcRecipients           []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient      `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient      `json:"replyTo,omitempty"`
	InternetMessageHeaders []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// internetHeader is a custom message header. Graph only accepts names
// starting with "X-".
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail
// request body. It also returns the names of headers Graph cannot carry.
func buildSendMailRequest(msg *email.Email) (*sendMailRequest, []string) {
	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     msg.Body,
			},
			ToRecipients:  toRecipients(msg.To),
			CcRecipients:  toRecipients(msg.Cc),
			BccRecipients: toRecipients(msg.Bcc),
		},
		SaveToSentItems: true,
	}
	if req.Message.ToRecipients == nil {
		req.Message.ToRecipients = []recipient{}
	}

	if replyTo := msg.ReplyTo(); replyTo != "" {
		req.Message.ReplyTo = toRecipients([]string{replyTo})
	}

	// Graph sets From, Date and Message-Id itself.
	var dropped []string
	for _, h := range msg.Overrides() {
		dropped = append(dropped, h.Key)
	}
	for _, h := range msg.ExtraHeaders() {
		if !strings.HasPrefix(h.Key, "X-") {
			dropped = append(dropped, h.Key)
			continue
		}
		req.Message.InternetMessageHeaders = append(req.Message.InternetMessageHeaders, internetHeader{
			Name:  h.Key,
			Value: h.Value,
		})
	}

	return req, dropped
}

func toRecipients(addrs []string) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}
