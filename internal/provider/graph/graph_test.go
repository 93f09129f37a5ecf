package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shineum/contactform/internal/email"
	"github.com/shineum/contactform/internal/provider"
)

var _ provider.Provider = (*GraphProvider)(nil)

// newTokenServer returns a token endpoint that always issues the given token.
func newTokenServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: token, ExpiresIn: 3600})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(graphURL, tokenURL string, client *http.Client) *GraphProvider {
	p := newWithOverrides(
		GraphProviderConfig{Sender: "s@example.com", TenantID: "t", ClientID: "c", ClientSecret: "s"},
		graphURL, tokenURL, client,
	)
	p.retryDelay = time.Millisecond
	return p
}

func testMessage() *email.Email {
	return &email.Email{
		From:    "noreply@example.com",
		To:      []string{"user@example.com"},
		Subject: "Test",
		Body:    "Body",
	}
}

func TestBuildSendMailRequest_BasicEmail(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		To:      []string{"alice@example.com", "bob@example.com"},
		Subject: "Test Subject",
		Body:    "Hello, World!",
	}

	req, dropped := buildSendMailRequest(msg)
	if len(dropped) != 0 {
		t.Errorf("dropped: got %v, want none", dropped)
	}

	want := sendMailMessage{
		Subject: "Test Subject",
		Body:    messageBody{ContentType: "text", Content: "Hello, World!"},
		ToRecipients: []recipient{
			{EmailAddress: emailAddress{Address: "alice@example.com"}},
			{EmailAddress: emailAddress{Address: "bob@example.com"}},
		},
	}
	if diff := cmp.Diff(want, req.Message); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if !req.SaveToSentItems {
		t.Error("SaveToSentItems should be true")
	}
}

func TestBuildSendMailRequest_ReplyToAndHeaders(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		To:      []string{"alice@example.com"},
		Subject: "Contact",
		Body:    "Hello",
		Headers: map[string]string{
			"Reply-To":   "visitor@example.com",
			"X-Form":     "basic",
			"List-Unsub": "nope",
			"From":       "desk@example.com",
		},
	}

	req, dropped := buildSendMailRequest(msg)

	if diff := cmp.Diff([]string{"From", "List-Unsub"}, dropped); diff != "" {
		t.Errorf("dropped headers mismatch (-want +got):\n%s", diff)
	}

	wantReplyTo := []recipient{{EmailAddress: emailAddress{Address: "visitor@example.com"}}}
	if diff := cmp.Diff(wantReplyTo, req.Message.ReplyTo); diff != "" {
		t.Errorf("ReplyTo mismatch (-want +got):\n%s", diff)
	}
	wantHeaders := []internetHeader{{Name: "X-Form", Value: "basic"}}
	if diff := cmp.Diff(wantHeaders, req.Message.InternetMessageHeaders); diff != "" {
		t.Errorf("InternetMessageHeaders mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSendMailRequest_EmptyToMarshalsAsArray(t *testing.T) {
	t.Parallel()

	msg := &email.Email{Bcc: []string{"audit@example.com"}, Subject: "Only Bcc"}

	req, _ := buildSendMailRequest(msg)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("JSON marshal error: %v", err)
	}

	var decoded struct {
		Message         map[string]any `json:"message"`
		SaveToSentItems bool           `json:"saveToSentItems"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON unmarshal error: %v", err)
	}
	if _, ok := decoded.Message["toRecipients"].([]any); !ok {
		t.Errorf("toRecipients should be a JSON array, got %T", decoded.Message["toRecipients"])
	}
	if !decoded.SaveToSentItems {
		t.Error("saveToSentItems should be true")
	}
}

func TestGraphProvider_Name(t *testing.T) {
	t.Parallel()

	p := &GraphProvider{}
	if p.Name() != "msgraph" {
		t.Errorf("Name: got %q, want %q", p.Name(), "msgraph")
	}
}

func TestGraphProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	tokenServer := newTokenServer(t, "test-token")

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization header: got %q, want %q", got, "Bearer test-token")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type header: got %q, want %q", got, "application/json")
		}

		var body sendMailRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Message.Subject != "Test" {
			t.Errorf("Subject in body: got %q, want %q", body.Message.Subject, "Test")
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := p.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGraphProvider_RejectsHeaderInjection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, graphServer.URL, graphServer.Client())

	msg := testMessage()
	msg.Headers = map[string]string{"Reply-To": "a@example.com\r\nBcc: evil@example.com"}

	if err := p.Send(context.Background(), msg); !errors.Is(err, email.ErrHeaderInjection) {
		t.Fatalf("expected ErrHeaderInjection, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("no HTTP calls expected, got %d", calls.Load())
	}
}

func TestGraphProvider_PermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "bad request", status: http.StatusBadRequest},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tokenServer := newTokenServer(t, "token")

			var calls atomic.Int32
			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(graphErrorResponse{
					Error: graphError{Code: "Err", Message: "rejected"},
				})
			}))
			defer graphServer.Close()

			p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

			err := p.Send(context.Background(), testMessage())

			var sendErr *sendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected *sendError, got %T (%v)", err, err)
			}
			if !sendErr.permanent {
				t.Errorf("HTTP %d should be classified as permanent", tt.status)
			}
			if calls.Load() != 1 {
				t.Errorf("permanent errors must not be retried, got %d calls", calls.Load())
			}
		})
	}
}

func TestGraphProvider_RetryOn5xx(t *testing.T) {
	t.Parallel()

	tokenServer := newTokenServer(t, "token")

	var graphCallCount atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCallCount.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(graphErrorResponse{
				Error: graphError{Code: "ServiceUnavailable", Message: "Try again"},
			})
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := p.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if got := graphCallCount.Load(); got != 3 {
		t.Errorf("graph call count: got %d, want 3 (2 failures + 1 success)", got)
	}
}

func TestGraphProvider_RetriesExhausted(t *testing.T) {
	t.Parallel()

	tokenServer := newTokenServer(t, "token")

	var graphCallCount atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCallCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	err := p.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if got := graphCallCount.Load(); got != maxRetries+1 {
		t.Errorf("graph call count: got %d, want %d", got, maxRetries+1)
	}
}

func TestGraphProvider_RetryOn401WithTokenRefresh(t *testing.T) {
	t.Parallel()

	var tokenCallCount atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := tokenCallCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+count)),
			ExpiresIn:   3600,
		})
	}))
	defer tokenServer.Close()

	var graphCallCount atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCallCount.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-2" {
			t.Errorf("Authorization after refresh: got %q, want %q", got, "Bearer token-2")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := p.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected success after token refresh, got: %v", err)
	}
	if got := graphCallCount.Load(); got != 2 {
		t.Errorf("graph call count: got %d, want 2", got)
	}
	if got := tokenCallCount.Load(); got != 2 {
		t.Errorf("token call count: got %d, want 2", got)
	}
}

func TestGraphProvider_RateLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	tokenServer := newTokenServer(t, "token")

	var graphCallCount atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCallCount.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Send(ctx, testMessage()); err != nil {
		t.Fatalf("expected success after rate limit retry, got: %v", err)
	}
	if got := graphCallCount.Load(); got != 2 {
		t.Errorf("graph call count: got %d, want 2", got)
	}
}

func TestGraphProvider_ContextCancellation(t *testing.T) {
	t.Parallel()

	tokenServer := newTokenServer(t, "token")
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL, graphServer.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Send(ctx, testMessage()); err == nil {
		t.Error("expected error for cancelled context, got nil")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		permanent  bool
		transient  bool
	}{
		{name: "400 Bad Request", statusCode: 400, permanent: true},
		{name: "401 Unauthorized", statusCode: 401, transient: true},
		{name: "403 Forbidden", statusCode: 403, permanent: true},
		{name: "404 Not Found", statusCode: 404, permanent: true},
		{name: "429 Too Many Requests", statusCode: 429, transient: true},
		{name: "500 Internal Server Error", statusCode: 500, transient: true},
		{name: "503 Service Unavailable", statusCode: 503, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyError(tt.statusCode, "test message", "")
			if err.permanent != tt.permanent {
				t.Errorf("permanent: got %v, want %v", err.permanent, tt.permanent)
			}
			if err.transient != tt.transient {
				t.Errorf("transient: got %v, want %v", err.transient, tt.transient)
			}
		})
	}
}

func TestRetryAfterDelay(t *testing.T) {
	t.Parallel()

	p := newWithOverrides(GraphProviderConfig{}, "", "", http.DefaultClient)

	tests := []struct {
		header  string
		attempt int
		want    time.Duration
	}{
		{header: "5", attempt: 0, want: 5 * time.Second},
		{header: "", attempt: 1, want: 2 * time.Second},
		{header: "soon", attempt: 2, want: 4 * time.Second},
	}

	for _, tt := range tests {
		if got := p.retryAfterDelay(tt.header, tt.attempt); got != tt.want {
			t.Errorf("retryAfterDelay(%q, %d): got %v, want %v", tt.header, tt.attempt, got, tt.want)
		}
	}
}

func TestSendError_Error(t *testing.T) {
	t.Parallel()

	err := &sendError{message: "test error", statusCode: 500}

	expected := "Graph API error (HTTP 500): test error"
	if err.Error() != expected {
		t.Errorf("Error(): got %q, want %q", err.Error(), expected)
	}
}

func TestNew_AppliesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          GraphProviderConfig
		wantEndpoint string
		wantTimeout  time.Duration
		wantBuffer   time.Duration
	}{
		{
			name:         "defaults",
			cfg:          GraphProviderConfig{TenantID: "contoso", ClientID: "c", ClientSecret: "s", Sender: "a@example.com"},
			wantEndpoint: "https://login.microsoftonline.com/contoso/oauth2/v2.0/token",
			wantTimeout:  defaultTimeout,
			wantBuffer:   defaultTokenExpiryBuffer,
		},
		{
			name: "national cloud",
			cfg: GraphProviderConfig{
				TenantID: "gov", ClientID: "c", ClientSecret: "s", Sender: "a@example.com",
				Authority:         "https://login.microsoftonline.us",
				Timeout:           5 * time.Second,
				TokenExpiryBuffer: time.Minute,
			},
			wantEndpoint: "https://login.microsoftonline.us/gov/oauth2/v2.0/token",
			wantTimeout:  5 * time.Second,
			wantBuffer:   time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := New(tt.cfg)
			if p.token.endpoint != tt.wantEndpoint {
				t.Errorf("token endpoint: got %q, want %q", p.token.endpoint, tt.wantEndpoint)
			}
			if p.httpClient.Timeout != tt.wantTimeout {
				t.Errorf("timeout: got %v, want %v", p.httpClient.Timeout, tt.wantTimeout)
			}
			if p.token.client != p.httpClient {
				t.Error("token requests should share the sendMail HTTP client")
			}
			if p.token.expiryBuffer != tt.wantBuffer {
				t.Errorf("expiry buffer: got %v, want %v", p.token.expiryBuffer, tt.wantBuffer)
			}
		})
	}
}
