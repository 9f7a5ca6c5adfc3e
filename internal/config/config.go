// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/proxy-pilot/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Admin listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Admin listen port (overrides config).',env='PORT'"`
	DevToolsURL string `kong:"help='DevTools endpoint of an already-running browser (overrides config).',env='DEVTOOLS_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Browser BrowserConfig `toml:"browser"`
	Command CommandConfig `toml:"command"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Admin   AdminConfig   `toml:"admin"`
	Egress  EgressConfig  `toml:"egress"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// BrowserConfig controls how the browser is launched or attached.
type BrowserConfig struct {
	// DevToolsURL attaches to a running browser instead of launching one.
	// Accepts http://host:port or a ws:// websocket URL.
	DevToolsURL     string `toml:"devtools_url"`
	Executable      string `toml:"executable"`
	UserDataDir     string `toml:"user_data_dir"`
	Headless        bool   `toml:"headless"`
	RandomUserAgent bool   `toml:"random_user_agent"`
	DebugPort       int    `toml:"debug_port"` // 0 means "use default" (9222); TOML cannot distinguish 0 from unset
	LaunchTimeoutMS int    `toml:"launch_timeout_ms"`
}

// CommandConfig controls command URL recognition.
type CommandConfig struct {
	// Scheme is the URL scheme commands arrive under, e.g. "chrome"
	// recognizes chrome://set_proxy/… and friends.
	Scheme string `toml:"scheme"`
}

// ProxyConfig holds proxy application settings.
type ProxyConfig struct {
	Bypass []string `toml:"bypass"`
}

// AdminConfig holds the admin HTTP server settings.
type AdminConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// EgressConfig holds egress IP lookup settings.
type EgressConfig struct {
	LookupURL      string `toml:"lookup_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/proxy-pilot/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Admin.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Admin.Port = cli.Port
	}
	if cli.DevToolsURL != "" {
		c.Browser.DevToolsURL = cli.DevToolsURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Browser.DevToolsURL != "" {
		u, err := url.Parse(c.Browser.DevToolsURL)
		if err != nil {
			return fmt.Errorf("browser.devtools_url is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
			// valid
		default:
			return fmt.Errorf("browser.devtools_url must be http(s) or ws(s); got %q", c.Browser.DevToolsURL)
		}
	}

	// Numeric bounds.
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if c.Browser.DebugPort < 0 || c.Browser.DebugPort > 65535 {
		return fmt.Errorf("browser.debug_port must be 0–65535; got %d", c.Browser.DebugPort)
	}
	if c.Browser.LaunchTimeoutMS < 0 {
		return fmt.Errorf("browser.launch_timeout_ms must be non-negative; got %d", c.Browser.LaunchTimeoutMS)
	}
	if c.Admin.BodyMaxBytes < 0 {
		return fmt.Errorf("admin.body_max_bytes must be non-negative; got %d", c.Admin.BodyMaxBytes)
	}
	if c.Egress.TimeoutSeconds < 0 {
		return fmt.Errorf("egress.timeout_seconds must be non-negative; got %d", c.Egress.TimeoutSeconds)
	}
	if c.Admin.RateLimit.Enabled && c.Admin.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("admin.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Admin.RateLimit.RequestsPerSecond)
	}

	if c.Command.Scheme != "" && strings.ContainsAny(c.Command.Scheme, ":/") {
		return fmt.Errorf("command.scheme must be a bare scheme name; got %q", c.Command.Scheme)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api/v1", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, DebugPort, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0
// in the config file therefore results in the default port.
func (c *Config) setDefaults() {
	if c.Browser.Executable == "" {
		c.Browser.Executable = "chromium"
	}
	if c.Browser.DebugPort == 0 {
		c.Browser.DebugPort = 9222
	}
	if c.Browser.LaunchTimeoutMS == 0 {
		c.Browser.LaunchTimeoutMS = 15000
	}
	if c.Command.Scheme == "" {
		c.Command.Scheme = "chrome"
	}
	if len(c.Proxy.Bypass) == 0 {
		c.Proxy.Bypass = []string{"localhost"}
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8900
	}
	if c.Admin.BodyMaxBytes == 0 {
		c.Admin.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Egress.LookupURL == "" {
		c.Egress.LookupURL = "https://api.myip.com/"
	}
	if c.Egress.TimeoutSeconds == 0 {
		c.Egress.TimeoutSeconds = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
