// Package session launches or attaches to the Chromium instance the
// commander drives.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"proxy-pilot-go/internal/config"
)

// defaultArgs is the launch argument set for a quiet, automation-friendly
// browser.
var defaultArgs = []string{
	"--disable-background-networking",
	"--enable-features=NetworkService,NetworkServiceInProcess",
	"--disable-client-side-phishing-detection",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-breakpad",
	"--disable-features=TranslateUI",
	"--disable-prompt-on-repost",
	"--no-first-run",
	"--disable-sync",
	"--force-color-profile=srgb",
	"--lang=en_US",
	"--no-sandbox",
	"--disable-gpu",
	"--disable-smooth-scrolling",
	"--disable-translate",
	"--disable-logging",
	"--disable-histogram-customizer",
}

// Session is a running or attached browser with a resolved DevTools endpoint.
type Session struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	// WSURL is the browser-level DevTools websocket endpoint.
	WSURL string
}

// Start attaches to cfg.Browser.DevToolsURL when set, otherwise launches the
// configured executable with a DevTools port and the helper extension loaded.
func Start(ctx context.Context, cfg *config.Config, extensionDir string, logger *slog.Logger) (*Session, error) {
	logger = logger.With("component", "session")

	if cfg.Browser.DevToolsURL != "" {
		wsURL, err := resolveWSURL(ctx, cfg.Browser.DevToolsURL)
		if err != nil {
			return nil, err
		}
		logger.Info("attached to browser", "ws_url", wsURL)
		return &Session{logger: logger, WSURL: wsURL}, nil
	}

	args := make([]string, 0, len(defaultArgs)+8)
	args = append(args, defaultArgs...)
	args = append(args,
		fmt.Sprintf("--remote-debugging-port=%d", cfg.Browser.DebugPort),
		"--load-extension="+extensionDir,
	)
	if cfg.Browser.UserDataDir != "" {
		args = append(args, "--user-data-dir="+cfg.Browser.UserDataDir)
	}
	if cfg.Browser.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.Browser.RandomUserAgent {
		args = append(args, "--user-agent="+RandomUserAgent())
	}

	cmd := exec.Command(cfg.Browser.Executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", cfg.Browser.Executable, err)
	}
	logger.Info("browser launched", "pid", cmd.Process.Pid, "port", cfg.Browser.DebugPort)

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", cfg.Browser.DebugPort)
	deadline := time.Duration(cfg.Browser.LaunchTimeoutMS) * time.Millisecond
	wsURL, err := waitForDevTools(ctx, endpoint, deadline)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	return &Session{cmd: cmd, logger: logger, WSURL: wsURL}, nil
}

// Close terminates a launched browser. Attached sessions are left running.
func (s *Session) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = s.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		s.logger.Warn("browser did not exit, killing")
		_ = s.cmd.Process.Kill()
		<-done
	}
	return nil
}

// waitForDevTools polls the DevTools HTTP endpoint until the browser answers
// or the timeout elapses.
func waitForDevTools(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		wsURL, err := resolveWSURL(ctx, endpoint)
		if err == nil {
			return wsURL, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("devtools endpoint %s not ready: %w", endpoint, ctx.Err())
		case <-ticker.C:
		}
	}
}

// resolveWSURL turns a DevTools base URL into the browser websocket URL.
// ws:// URLs pass through; http:// URLs are resolved via /json/version.
func resolveWSURL(ctx context.Context, base string) (string, error) {
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		return base, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/json/version", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build version request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query devtools version: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode devtools version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools endpoint %s reported no websocket URL", base)
	}
	return version.WebSocketDebuggerURL, nil
}
