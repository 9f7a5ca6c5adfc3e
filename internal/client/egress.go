// Package client probes the effective egress IP through the active proxy.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"proxy-pilot-go/internal/config"
	"proxy-pilot-go/internal/model"
)

// EgressInfo is the lookup service's answer: the IP the proxied traffic
// appears to come from.
type EgressInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	CC      string `json:"cc"`
}

// EgressClient queries an IP lookup service, optionally through a proxy.
type EgressClient struct {
	lookupURL string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewEgressClient creates an EgressClient from config.
func NewEgressClient(cfg *config.Config, logger *slog.Logger) *EgressClient {
	return &EgressClient{
		lookupURL: cfg.Egress.LookupURL,
		timeout:   time.Duration(cfg.Egress.TimeoutSeconds) * time.Second,
		logger:    logger.With("component", "egress_client"),
	}
}

// Probe fetches the egress info. When proxy is non-nil the request is routed
// through it with the configured credentials; otherwise the environment's
// proxy settings apply. A fresh transport is built per probe because the
// proxy under test changes between calls.
func (c *EgressClient) Probe(ctx context.Context, proxy *model.ProxyConfig) (*EgressInfo, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		Proxy: http.ProxyFromEnvironment,
	}
	if proxy != nil {
		u := &url.URL{Scheme: "http", Host: proxy.Server()}
		if proxy.HasCredentials() {
			u.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	httpClient := &http.Client{Transport: transport, Timeout: c.timeout}
	defer httpClient.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lookupURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build egress request: %w", err)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("egress lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("egress lookup: unexpected status %d", resp.StatusCode)
	}

	var info EgressInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode egress response: %w", err)
	}

	c.logger.Debug("egress probe",
		"ip", info.IP,
		"country", info.CC,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &info, nil
}
