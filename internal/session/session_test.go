package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proxy-pilot-go/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveWSURL_WebsocketPassthrough(t *testing.T) {
	for _, u := range []string{
		"ws://127.0.0.1:9222/devtools/browser/abc",
		"wss://remote:9222/devtools/browser/abc",
	} {
		got, err := resolveWSURL(context.Background(), u)
		if err != nil {
			t.Fatalf("resolveWSURL(%q) error = %v", u, err)
		}
		if got != u {
			t.Errorf("resolveWSURL(%q) = %q, want passthrough", u, got)
		}
	}
}

func TestResolveWSURL_HTTPEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"Chrome/test","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/xyz"}`))
	}))
	defer srv.Close()

	got, err := resolveWSURL(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("resolveWSURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:9222/devtools/browser/xyz" {
		t.Errorf("resolveWSURL() = %q", got)
	}
}

func TestResolveWSURL_MissingWebsocketURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Browser":"Chrome/test"}`))
	}))
	defer srv.Close()

	if _, err := resolveWSURL(context.Background(), srv.URL); err == nil {
		t.Fatal("resolveWSURL() error = nil, want error")
	}
}

func TestStart_AttachesToRunningBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/attach"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{Browser: config.BrowserConfig{DevToolsURL: srv.URL}}
	sess, err := Start(context.Background(), cfg, "", testLogger())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.WSURL != "ws://127.0.0.1:9222/devtools/browser/attach" {
		t.Errorf("WSURL = %q", sess.WSURL)
	}

	// Attached sessions own no process; Close is a no-op.
	if err := sess.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWaitForDevTools_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := waitForDevTools(context.Background(), srv.URL, 300*time.Millisecond)
	if err == nil {
		t.Fatal("waitForDevTools() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("waitForDevTools took %v, want roughly the timeout", elapsed)
	}
}

func TestRandomUserAgent(t *testing.T) {
	for i := 0; i < 20; i++ {
		ua := RandomUserAgent()
		if ua == "" {
			t.Fatal("RandomUserAgent() returned empty string")
		}
		if !strings.Contains(ua, "Mozilla/5.0") {
			t.Errorf("RandomUserAgent() = %q, want a browser user agent", ua)
		}
	}
}
