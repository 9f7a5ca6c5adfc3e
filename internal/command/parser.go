// Package command parses and dispatches command URLs.
package command

import (
	"net/url"
	"regexp"
	"strconv"

	"proxy-pilot-go/internal/model"
)

// pathCredentialsPattern matches a /{username}:{password}@{host}:{port}/ path.
// Username and password exclude ':' and '@', host excludes ':', port is one
// or more digits, trailing slash optional.
var pathCredentialsPattern = regexp.MustCompile(
	`^/(?P<username>[^:@]+):(?P<password>[^:@]+)@(?P<host>[^:]+):(?P<port>[0-9]+)/?$`,
)

// ParseProxyConfig extracts a proxy configuration from a set-proxy command
// URL. Fields are taken from the query parameters (host, port, username,
// password) and from the path pattern; query values win field by field when
// both are present. Returns nil unless a non-empty host and a valid port are
// found; nil signals "not a valid proxy command".
func ParseProxyConfig(rawURL string) *model.ProxyConfig {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	var cfg model.ProxyConfig
	portSet := false

	if m := pathCredentialsPattern.FindStringSubmatch(u.Path); m != nil {
		cfg.Username = m[pathCredentialsPattern.SubexpIndex("username")]
		cfg.Password = m[pathCredentialsPattern.SubexpIndex("password")]
		cfg.Host = m[pathCredentialsPattern.SubexpIndex("host")]
		if port, err := strconv.Atoi(m[pathCredentialsPattern.SubexpIndex("port")]); err == nil {
			cfg.Port = port
			portSet = true
		}
	}

	q := u.Query()
	if v := q.Get("host"); v != "" {
		cfg.Host = v
	}
	if q.Has("port") {
		port, err := strconv.Atoi(q.Get("port"))
		if err != nil {
			// A present but non-numeric query port overrides any
			// path-derived value and invalidates the command.
			return nil
		}
		cfg.Port = port
		portSet = true
	}
	if v := q.Get("username"); v != "" {
		cfg.Username = v
	}
	if v := q.Get("password"); v != "" {
		cfg.Password = v
	}

	if cfg.Host == "" || !portSet || cfg.Port < 1 || cfg.Port > 65535 {
		return nil
	}
	return &cfg
}
