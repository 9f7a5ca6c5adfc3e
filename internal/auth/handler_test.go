package auth

import (
	"io"
	"log/slog"
	"testing"

	"proxy-pilot-go/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHandler_SuppliesCredentialsOnMatch(t *testing.T) {
	cfg := model.ProxyConfig{Host: "proxy.example.com", Port: 8080, Username: "alice", Password: "s3cret"}
	h := NewHandler(cfg, testLogger(), nil, func(model.ProxyConfig) {
		t.Error("heal called for matching challenge")
	})

	got := h(model.AuthChallenge{ChallengerHost: "proxy.example.com", Scheme: "basic"})
	want := model.Supply("alice", "s3cret")
	if got != want {
		t.Errorf("decision = %+v, want %+v", got, want)
	}
}

func TestNewHandler_SuppliesWhenChallengerUnknown(t *testing.T) {
	// An empty challenger host means the browser did not report an origin;
	// that is not evidence of a stale handler.
	cfg := model.ProxyConfig{Host: "proxy.example.com", Port: 8080, Username: "alice", Password: "s3cret"}
	h := NewHandler(cfg, testLogger(), nil, func(model.ProxyConfig) {
		t.Error("heal called for anonymous challenge")
	})

	got := h(model.AuthChallenge{})
	if got.Action != model.AuthSupply {
		t.Errorf("action = %v, want AuthSupply", got.Action)
	}
}

func TestNewHandler_DeclinesWithoutCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.ProxyConfig
	}{
		{"no credentials", model.ProxyConfig{Host: "h", Port: 1}},
		{"username only", model.ProxyConfig{Host: "h", Port: 1, Username: "u"}},
		{"password only", model.ProxyConfig{Host: "h", Port: 1, Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.cfg, testLogger(), nil, func(model.ProxyConfig) {
				t.Error("heal called by credential-less handler")
			})

			// Even a mismatched challenger gets a plain decline.
			got := h(model.AuthChallenge{ChallengerHost: "other.example.com"})
			if got.Action != model.AuthDecline {
				t.Errorf("action = %v, want AuthDecline", got.Action)
			}
		})
	}
}

func TestNewHandler_CancelsAndHealsOnMismatch(t *testing.T) {
	cfg := model.ProxyConfig{Host: "proxy.example.com", Port: 8080, Username: "alice", Password: "s3cret"}

	var healed []model.ProxyConfig
	h := NewHandler(cfg, testLogger(), nil, func(c model.ProxyConfig) {
		healed = append(healed, c)
	})

	got := h(model.AuthChallenge{ChallengerHost: "stale.example.com"})
	if got.Action != model.AuthCancel {
		t.Fatalf("action = %v, want AuthCancel", got.Action)
	}
	if got.Username != "" || got.Password != "" {
		t.Error("cancel decision leaked credentials")
	}
	if len(healed) != 1 {
		t.Fatalf("heal calls = %d, want 1", len(healed))
	}
	if healed[0] != cfg {
		t.Errorf("heal cfg = %+v, want %+v", healed[0], cfg)
	}
}
