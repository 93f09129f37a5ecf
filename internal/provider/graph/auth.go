package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Defaults applied to a zero GraphProviderConfig.
const (
	defaultAuthority         = "https://login.microsoftonline.com"
	defaultScope             = "https://graph.microsoft.com/.default"
	defaultTokenExpiryBuffer = 5 * time.Minute
	defaultTimeout           = 30 * time.Second
)

// maxTokenResponse caps how much of a token endpoint response is read.
const maxTokenResponse = 64 << 10

// tokenEndpoint returns the tenant's OAuth2 v2.0 token URL under authority.
func tokenEndpoint(authority, tenantID string) string {
	return strings.TrimRight(authority, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token"
}

// accessToken is a bearer token and the instant it stops being handed out.
type accessToken struct {
	value     string
	notBefore time.Time
}

func (t accessToken) usable(now time.Time) bool {
	return t.value != "" && now.Before(t.notBefore)
}

// tokenError is an error reported by the token endpoint. Code and
// Description come from the OAuth2 error body when it has one.
type tokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *tokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint returned %d", e.Status)
	}
	return fmt.Sprintf("token endpoint returned %d: %s: %s", e.Status, e.Code, e.Description)
}

// credentials obtains client-credentials tokens for the sendMail calls and
// keeps the current one until it is within expiryBuffer of expiring.
// Safe for concurrent use.
type credentials struct {
	endpoint     string
	body         string
	expiryBuffer time.Duration
	client       *http.Client
	now          func() time.Time

	mu      sync.Mutex
	current accessToken
}

func newCredentials(cfg GraphProviderConfig, endpoint string, client *http.Client) *credentials {
	return &credentials{
		endpoint: endpoint,
		body: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {cfg.ClientID},
			"client_secret": {cfg.ClientSecret},
			"scope":         {cfg.Scope},
		}.Encode(),
		expiryBuffer: cfg.TokenExpiryBuffer,
		client:       client,
		now:          time.Now,
	}
}

// Token returns the cached token or fetches a new one. Concurrent callers
// wait for a single fetch.
func (c *credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.usable(c.now()) {
		return c.current.value, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.current = tok
	return tok.value, nil
}

// Invalidate drops the cached token, e.g. after Graph rejected it with 401.
func (c *credentials) Invalidate() {
	c.mu.Lock()
	c.current = accessToken{}
	c.mu.Unlock()
}

func (c *credentials) fetch(ctx context.Context) (accessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(c.body))
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issued := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return accessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		tokErr := &tokenError{Status: resp.StatusCode}
		var body struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(data, &body) == nil {
			tokErr.Code, tokErr.Description = body.Error, body.Description
		}
		return accessToken{}, tokErr
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return accessToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return accessToken{}, fmt.Errorf("token response missing access_token")
	}

	lifetime := time.Duration(tr.ExpiresIn)*time.Second - c.expiryBuffer
	return accessToken{value: tr.AccessToken, notBefore: issued.Add(lifetime)}, nil
}
