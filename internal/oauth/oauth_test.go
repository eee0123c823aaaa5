package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"copilot-gateway/internal/config"
	"copilot-gateway/internal/pool"
)

func TestPollForAuthorizationSuccessAfterPending(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_abcdefghijklmnopqrstuvwxyz"})
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()

	// redirect by monkey-patching the request target via a custom RoundTripper
	c.client.Transport = redirectTransport{target: srv.URL}

	token, err := c.PollForAuthorization("devicecode123", 0, 5)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if token != "gho_abcdefghijklmnopqrstuvwxyz" {
		t.Errorf("token = %q", token)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPollForAuthorizationExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "expired_token"})
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()
	c.client.Transport = redirectTransport{target: srv.URL}

	_, err := c.PollForAuthorization("devicecode123", 0, 3)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("err = %v, want expired_token error", err)
	}
}

func TestPollForAuthorizationAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()
	c.client.Transport = redirectTransport{target: srv.URL}

	_, err := c.PollForAuthorization("devicecode123", 0, 3)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("err = %v, want access_denied error", err)
	}
}

func TestPollForAuthorizationTimesOutOnPersistentPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()
	c.client.Transport = redirectTransport{target: srv.URL}

	_, err := c.PollForAuthorization("devicecode123", 0, 3)
	if err != ErrAuthorizationTimeout {
		t.Errorf("err = %v, want ErrAuthorizationTimeout", err)
	}
}

func TestPollOnceSlowDownEscalatesControllerInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// A real slow_down response carries no usable interval of its own;
		// the bogus "interval" field here must be ignored.
		json.NewEncoder(w).Encode(map[string]any{"error": "slow_down", "interval": 999})
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()
	c.client.Transport = redirectTransport{target: srv.URL}

	_, updated, err := c.pollOnce("devicecode123", 5)
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if updated != 10 {
		t.Errorf("updatedInterval = %d, want 10 (currentInterval=5 + 5)", updated)
	}

	_, updated2, err := c.pollOnce("devicecode123", updated)
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if updated2 != 15 {
		t.Errorf("second updatedInterval = %d, want 15 (currentInterval=10 + 5)", updated2)
	}
}

func TestVerifySpecificTokenNeverPanicsOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	cfg := &config.Config{ClientID: "test-client", RequestTimeout: 2 * time.Second}
	c := New(cfg, pool.New())
	c.client = srv.Client()
	c.client.Transport = redirectTransport{target: srv.URL}

	if c.VerifySpecificToken("anytoken12345678901234") {
		t.Error("expected false on malformed response")
	}
}

func TestRequestDeviceCodeMissingClientID(t *testing.T) {
	cfg := &config.Config{RequestTimeout: time.Second}
	c := New(cfg, pool.New())

	if _, err := c.RequestDeviceCode(); err != ErrMisconfiguredClient {
		t.Errorf("err = %v, want ErrMisconfiguredClient", err)
	}
}

// redirectTransport rewrites every outbound request to target's host,
// letting tests exercise the real endpoint-construction code paths against
// an httptest.Server instead of the live GitHub hosts.
type redirectTransport struct {
	target string
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := http.NewRequest(req.Method, rt.target, req.Body)
	if err != nil {
		return nil, err
	}
	u.Header = req.Header
	return http.DefaultTransport.RoundTrip(u)
}
