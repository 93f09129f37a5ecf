package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingTokenServer issues "<prefix><n>" tokens and counts requests.
func countingTokenServer(t *testing.T, prefix string, expiresIn int64, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: prefix + strconv.Itoa(int(n)),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCredentials(endpoint string, client *http.Client) *credentials {
	cfg := GraphProviderConfig{ClientID: "cid", ClientSecret: "csecret"}.withDefaults()
	return newCredentials(cfg, endpoint, client)
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		authority string
		tenant    string
		want      string
	}{
		{defaultAuthority, "contoso", "https://login.microsoftonline.com/contoso/oauth2/v2.0/token"},
		{"https://login.microsoftonline.us/", "gov", "https://login.microsoftonline.us/gov/oauth2/v2.0/token"},
		{defaultAuthority, "a/b", "https://login.microsoftonline.com/a%2Fb/oauth2/v2.0/token"},
	}

	for _, tt := range tests {
		if got := tokenEndpoint(tt.authority, tt.tenant); got != tt.want {
			t.Errorf("tokenEndpoint(%q, %q): got %q, want %q", tt.authority, tt.tenant, got, tt.want)
		}
	}
}

func TestCredentials_RequestsConfiguredScope(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}

		want := map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "test-client-id",
			"client_secret": "test-client-secret",
			"scope":         "https://graph.microsoft.us/.default",
		}
		for key, val := range want {
			if got := r.FormValue(key); got != val {
				t.Errorf("%s: got %q, want %q", key, got, val)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-access-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	cfg := GraphProviderConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		Scope:        "https://graph.microsoft.us/.default",
	}.withDefaults()
	c := newCredentials(cfg, server.URL, server.Client())

	token, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token: got %q, want %q", token, "test-access-token")
	}
}

func TestCredentials_Lifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		advance    time.Duration
		invalidate bool
		wantCalls  int32
		wantToken  string
	}{
		{name: "cached while valid", advance: 50 * time.Minute, wantCalls: 1, wantToken: "tok-1"},
		// One hour lifetime minus the five minute buffer.
		{name: "replaced inside expiry buffer", advance: 56 * time.Minute, wantCalls: 2, wantToken: "tok-2"},
		{name: "invalidate drops cached token", invalidate: true, wantCalls: 2, wantToken: "tok-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := countingTokenServer(t, "tok-", 3600, &calls)
			c := testCredentials(server.URL, server.Client())
			now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			c.now = func() time.Time { return now }
			ctx := context.Background()

			if _, err := c.Token(ctx); err != nil {
				t.Fatalf("first call error: %v", err)
			}

			now = now.Add(tt.advance)
			if tt.invalidate {
				c.Invalidate()
			}

			token, err := c.Token(ctx)
			if err != nil {
				t.Fatalf("second call error: %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("token: got %q, want %q", token, tt.wantToken)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("server call count: got %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestCredentials_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "concurrent-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	c := testCredentials(server.URL, server.Client())

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tokens[idx], errs[idx] = c.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Errorf("goroutine %d error: %v", i, errs[i])
		}
		if tokens[i] != "concurrent-token" {
			t.Errorf("goroutine %d token: got %q, want %q", i, tokens[i], "concurrent-token")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server call count: got %d, want 1", got)
	}
}

func TestCredentials_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode string
		status   int
	}{
		{
			name: "oauth error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid_client","error_description":"AADSTS7000215: Invalid client secret"}`))
			},
			wantCode: "invalid_client",
			status:   http.StatusUnauthorized,
		},
		{
			name: "server error without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			status: http.StatusInternalServerError,
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tokenResponse{ExpiresIn: 3600})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := testCredentials(server.URL, server.Client())
			_, err := c.Token(context.Background())
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var tokErr *tokenError
			isTokenErr := errors.As(err, &tokErr)
			if tt.status == 0 {
				if isTokenErr {
					t.Errorf("unexpected tokenError: %v", err)
				}
				return
			}
			if !isTokenErr {
				t.Fatalf("expected *tokenError, got %T: %v", err, err)
			}
			if tokErr.Status != tt.status || tokErr.Code != tt.wantCode {
				t.Errorf("tokenError: got status=%d code=%q, want status=%d code=%q",
					tokErr.Status, tokErr.Code, tt.status, tt.wantCode)
			}
		})
	}
}
