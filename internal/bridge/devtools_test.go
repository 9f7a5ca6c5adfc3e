package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proxy-pilot-go/internal/model"
)

func TestDevTools_RegisterAuthHandler_SingleSlot(t *testing.T) {
	dt := NewDevTools(nil, testLogger())

	h := func(model.AuthChallenge) model.AuthDecision { return model.Decline() }

	if err := dt.RegisterAuthHandler(h); err != nil {
		t.Fatalf("first RegisterAuthHandler() error = %v", err)
	}
	if err := dt.RegisterAuthHandler(h); !errors.Is(err, ErrHandlerRegistered) {
		t.Fatalf("second RegisterAuthHandler() error = %v, want ErrHandlerRegistered", err)
	}

	if err := dt.UnregisterAuthHandler(); err != nil {
		t.Fatalf("UnregisterAuthHandler() error = %v", err)
	}
	// Unregistering with nothing registered is a no-op.
	if err := dt.UnregisterAuthHandler(); err != nil {
		t.Fatalf("repeated UnregisterAuthHandler() error = %v", err)
	}

	if err := dt.RegisterAuthHandler(h); err != nil {
		t.Errorf("RegisterAuthHandler() after unregister error = %v", err)
	}
}

func TestDevTools_AuthChallengeFlow(t *testing.T) {
	type authResponse struct {
		RequestID             string `json:"requestId"`
		AuthChallengeResponse struct {
			Response string `json:"response"`
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"authChallengeResponse"`
	}
	answered := make(chan authResponse, 1)

	conn := newTestConn(t, func(ws *websocket.Conn) {
		for {
			var msg rpcMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Method {
			case "Target.setDiscoverTargets":
				writeResult(ws, msg.ID, nil)
			case "Target.setAutoAttach":
				writeResult(ws, msg.ID, nil)
				writeEvent(ws, "Target.attachedToTarget", "", map[string]any{
					"sessionId": "page-1",
					"targetInfo": map[string]any{
						"targetId": "t1", "type": "page", "url": "https://example.com/",
					},
				})
			case "Fetch.enable":
				writeResult(ws, msg.ID, nil)
				writeEvent(ws, "Fetch.authRequired", "page-1", map[string]any{
					"requestId": "req-1",
					"authChallenge": map[string]any{
						"source": "Proxy",
						"origin": "http://proxy.example.com:8080",
						"scheme": "basic",
					},
				})
			case "Fetch.continueWithAuth":
				var p authResponse
				_ = json.Unmarshal(msg.Params, &p)
				answered <- p
				writeResult(ws, msg.ID, nil)
			default:
				writeResult(ws, msg.ID, nil)
			}
		}
	})

	dt := NewDevTools(conn, testLogger())

	challenges := make(chan model.AuthChallenge, 1)
	if err := dt.RegisterAuthHandler(func(ch model.AuthChallenge) model.AuthDecision {
		challenges <- ch
		return model.Supply("alice", "s3cret")
	}); err != nil {
		t.Fatalf("RegisterAuthHandler() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case ch := <-challenges:
		if ch.ChallengerHost != "proxy.example.com" {
			t.Errorf("ChallengerHost = %q, want proxy.example.com", ch.ChallengerHost)
		}
		if ch.Scheme != "basic" {
			t.Errorf("Scheme = %q, want basic", ch.Scheme)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the challenge")
	}

	select {
	case resp := <-answered:
		if resp.RequestID != "req-1" {
			t.Errorf("requestId = %q, want req-1", resp.RequestID)
		}
		if resp.AuthChallengeResponse.Response != "ProvideCredentials" {
			t.Errorf("response = %q, want ProvideCredentials", resp.AuthChallengeResponse.Response)
		}
		if resp.AuthChallengeResponse.Username != "alice" || resp.AuthChallengeResponse.Password != "s3cret" {
			t.Errorf("credentials = %q/%q, want alice/s3cret",
				resp.AuthChallengeResponse.Username, resp.AuthChallengeResponse.Password)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("challenge never answered")
	}
}

func TestDevTools_AuthChallenge_NoHandlerDefaults(t *testing.T) {
	answered := make(chan string, 1)

	conn := newTestConn(t, func(ws *websocket.Conn) {
		writeEvent(ws, "Fetch.authRequired", "page-1", map[string]any{
			"requestId":     "req-1",
			"authChallenge": map[string]any{"source": "Proxy", "origin": "http://proxy.example.com:8080"},
		})
		for {
			var msg rpcMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Method == "Fetch.continueWithAuth" {
				var p struct {
					AuthChallengeResponse struct {
						Response string `json:"response"`
					} `json:"authChallengeResponse"`
				}
				_ = json.Unmarshal(msg.Params, &p)
				answered <- p.AuthChallengeResponse.Response
			}
			writeResult(ws, msg.ID, nil)
		}
	})

	dt := NewDevTools(conn, testLogger())
	conn.On("Fetch.authRequired", dt.onAuthRequired)

	select {
	case resp := <-answered:
		if resp != "Default" {
			t.Errorf("response = %q, want Default", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("challenge never answered")
	}
}

func TestDevTools_NavigationEvents(t *testing.T) {
	conn := newTestConn(t, func(ws *websocket.Conn) {
		page := func(url string) map[string]any {
			return map[string]any{
				"targetInfo": map[string]any{"targetId": "t1", "type": "page", "url": url},
			}
		}
		writeEvent(ws, "Target.targetCreated", "", page("about:blank"))
		writeEvent(ws, "Target.targetInfoChanged", "", page("https://example.com/"))
		// Same URL again: no duplicate event.
		writeEvent(ws, "Target.targetInfoChanged", "", page("https://example.com/"))
		writeEvent(ws, "Target.targetInfoChanged", "", page("chrome://reset_proxy"))
		// Non-page targets never emit navigations.
		writeEvent(ws, "Target.targetCreated", "", map[string]any{
			"targetInfo": map[string]any{"targetId": "w1", "type": "service_worker", "url": "https://example.com/sw.js"},
		})
		for {
			var msg rpcMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			writeResult(ws, msg.ID, nil)
		}
	})

	dt := NewDevTools(conn, testLogger())
	conn.On("Target.targetCreated", dt.onTargetInfo)
	conn.On("Target.targetInfoChanged", dt.onTargetInfo)

	events := dt.Subscribe()
	want := []string{"https://example.com/", "chrome://reset_proxy"}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.URL != w {
				t.Errorf("event %d URL = %q, want %q", i, ev.URL, w)
			}
			if ev.TabID != "t1" {
				t.Errorf("event %d TabID = %q, want t1", i, ev.TabID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for navigation %d", i)
		}
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected extra navigation %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDevTools_ApplyFixedThroughExtension(t *testing.T) {
	expressions := make(chan string, 2)

	conn := newTestConn(t, func(ws *websocket.Conn) {
		for {
			var msg rpcMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Method {
			case "Target.getTargets":
				writeResult(ws, msg.ID, map[string]any{
					"targetInfos": []map[string]any{
						{"targetId": "page", "type": "page", "url": "https://example.com/"},
						{"targetId": "ext", "type": "service_worker", "url": "chrome-extension://abcdef/background.js"},
					},
				})
			case "Target.attachToTarget":
				writeResult(ws, msg.ID, map[string]any{"sessionId": "ext-1"})
			case "Runtime.evaluate":
				if msg.SessionID != "ext-1" {
					t.Errorf("evaluate session = %q, want ext-1", msg.SessionID)
				}
				var p struct {
					Expression string `json:"expression"`
				}
				_ = json.Unmarshal(msg.Params, &p)
				expressions <- p.Expression
				writeResult(ws, msg.ID, map[string]any{"result": map[string]any{"type": "boolean", "value": true}})
			default:
				writeResult(ws, msg.ID, nil)
			}
		}
	})

	dt := NewDevTools(conn, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := model.ProxyConfig{Host: "proxy.example.com", Port: 8080}
	if err := dt.ApplyFixed(ctx, cfg, []string{"localhost"}); err != nil {
		t.Fatalf("ApplyFixed() error = %v", err)
	}

	expr := <-expressions
	for _, sub := range []string{"fixed_servers", "proxy.example.com", "8080", "localhost", `scope: "regular"`} {
		if !strings.Contains(expr, sub) {
			t.Errorf("expression missing %q:\n%s", sub, expr)
		}
	}

	if err := dt.UseSystem(ctx); err != nil {
		t.Fatalf("UseSystem() error = %v", err)
	}
	expr = <-expressions
	if !strings.Contains(expr, `"mode":"system"`) {
		t.Errorf("expression missing system mode:\n%s", expr)
	}
}

func TestDevTools_CloseOthers(t *testing.T) {
	closed := make(chan string, 4)

	conn := newTestConn(t, func(ws *websocket.Conn) {
		for {
			var msg rpcMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Method == "Target.closeTarget" {
				var p struct {
					TargetID string `json:"targetId"`
				}
				_ = json.Unmarshal(msg.Params, &p)
				closed <- p.TargetID
			}
			writeResult(ws, msg.ID, nil)
		}
	})

	dt := NewDevTools(conn, testLogger())
	dt.mu.Lock()
	dt.targets["keep"] = targetInfo{TargetID: "keep", Type: "page", URL: "https://a/"}
	dt.targets["drop"] = targetInfo{TargetID: "drop", Type: "page", URL: "https://b/"}
	dt.targets["ext"] = targetInfo{TargetID: "ext", Type: "service_worker", URL: "chrome-extension://x/bg.js"}
	dt.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dt.CloseOthers(ctx, "keep"); err != nil {
		t.Fatalf("CloseOthers() error = %v", err)
	}

	select {
	case id := <-closed:
		if id != "drop" {
			t.Errorf("closed %q, want drop", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no target closed")
	}
	select {
	case id := <-closed:
		t.Errorf("unexpected extra close of %q", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHostnameOf(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"http://proxy.example.com:8080", "proxy.example.com"},
		{"https://proxy.example.com", "proxy.example.com"},
		{"proxy.example.com:8080", "proxy.example.com"},
		{"10.0.0.1:3128", "10.0.0.1"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := hostnameOf(tt.origin); got != tt.want {
			t.Errorf("hostnameOf(%q) = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestClearDataExpr_CoversCategories(t *testing.T) {
	for _, category := range []string{
		"cache", "cookies", "history", "localStorage", "passwords", "serviceWorkers", "since: 0",
	} {
		if !strings.Contains(clearDataExpr, category) {
			t.Errorf("clear-data expression missing %q", category)
		}
	}
}
