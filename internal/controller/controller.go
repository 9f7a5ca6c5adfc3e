// Package controller owns the active proxy configuration and the single
// registered authentication handler.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"proxy-pilot-go/internal/auth"
	"proxy-pilot-go/internal/bridge"
	"proxy-pilot-go/internal/metrics"
	"proxy-pilot-go/internal/model"
)

// Controller applies and reverts the browser proxy setting and manages the
// lifecycle of exactly one authentication handler. Every path that changes
// the active configuration removes the old registration strictly before
// installing the new one, so at most one handler is registered with the
// browser at any time.
type Controller struct {
	settings bridge.ProxySettings
	gate     bridge.AuthGate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bypass   []string

	mu         sync.Mutex
	current    bridge.AuthHandler
	currentCfg *model.ProxyConfig
	registered bool

	// heals carries stale-handler recovery requests out of the challenge
	// callback. Capacity 1: a storm of mismatched challenges collapses
	// into a single reset+reapply cycle.
	heals chan model.ProxyConfig
}

// New creates a Controller. The metrics parameter is optional; pass nil to
// disable apply/heal metrics.
func New(settings bridge.ProxySettings, gate bridge.AuthGate, logger *slog.Logger, m *metrics.Metrics, bypass []string) *Controller {
	if len(bypass) == 0 {
		bypass = []string{"localhost"}
	}
	return &Controller{
		settings: settings,
		gate:     gate,
		logger:   logger.With("component", "controller"),
		metrics:  m,
		bypass:   bypass,
		heals:    make(chan model.ProxyConfig, 1),
	}
}

// Start runs the heal loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-c.heals:
				c.heal(ctx, cfg)
			}
		}
	}()
}

// SetProxy installs cfg as the active fixed-server proxy and registers a
// fresh authentication handler. Any previously registered handler is removed
// first. On application failure the error is reported and no handler is left
// registered; the browser keeps whatever proxy state it already had.
func (c *Controller) SetProxy(ctx context.Context, cfg model.ProxyConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeAuthListener()

	h := auth.NewHandler(cfg, c.logger, c.metrics, c.requestHeal)
	c.current = bridge.AuthHandler(h)
	cfgCopy := cfg
	c.currentCfg = &cfgCopy

	if err := c.settings.ApplyFixed(ctx, cfg, c.bypass); err != nil {
		c.countApply(metrics.ModeFixed, metrics.ResultError)
		c.logger.Error("applying proxy settings",
			"err", err,
			"proxy", cfg.Redacted(),
		)
		return fmt.Errorf("apply proxy settings: %w", err)
	}
	c.countApply(metrics.ModeFixed, metrics.ResultOK)

	if err := c.gate.RegisterAuthHandler(c.current); err != nil {
		c.logger.Error("registering auth handler", "err", err)
		return fmt.Errorf("register auth handler: %w", err)
	}
	c.registered = true

	c.logger.Info("proxy set", "proxy", cfg.Redacted())
	return nil
}

// ResetProxy removes any registered handler, clears the stored configuration
// and reverts to the system proxy. Failures are reported, not escalated:
// calling ResetProxy twice in a row is always safe.
func (c *Controller) ResetProxy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeAuthListener()
	c.current = nil
	c.currentCfg = nil

	if err := c.settings.UseSystem(ctx); err != nil {
		c.countApply(metrics.ModeSystem, metrics.ResultError)
		c.logger.Error("reverting to system proxy", "err", err)
		return fmt.Errorf("revert to system proxy: %w", err)
	}
	c.countApply(metrics.ModeSystem, metrics.ResultOK)

	c.logger.Info("proxy reset")
	return nil
}

// Current returns a copy of the active proxy configuration, or nil when no
// proxy is set.
func (c *Controller) Current() *model.ProxyConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentCfg == nil {
		return nil
	}
	cfg := *c.currentCfg
	return &cfg
}

// removeAuthListener unregisters the stored handler only if it is both
// present and currently registered. Safe to call in any state, including
// when no handler was ever set. Caller must hold c.mu.
func (c *Controller) removeAuthListener() {
	if c.current == nil || !c.registered {
		return
	}
	if err := c.gate.UnregisterAuthHandler(); err != nil {
		c.logger.Error("unregistering auth handler", "err", err)
	}
	c.registered = false
}

// requestHeal queues a reset+reapply cycle for cfg. Called from inside the
// challenge callback, so it must not block: if a heal is already pending the
// request is dropped.
func (c *Controller) requestHeal(cfg model.ProxyConfig) {
	select {
	case c.heals <- cfg:
	default:
		c.logger.Debug("heal already pending, dropping request")
	}
}

// heal tears down the stale handler and reapplies cfg from scratch.
func (c *Controller) heal(ctx context.Context, cfg model.ProxyConfig) {
	c.logger.Warn("recovering from stale auth handler", "proxy", cfg.Redacted())
	if c.metrics != nil {
		c.metrics.SelfHeals.Inc()
	}

	if err := c.ResetProxy(ctx); err != nil {
		c.logger.Error("heal: reset failed", "err", err)
	}
	if err := c.SetProxy(ctx, cfg); err != nil {
		c.logger.Error("heal: reapply failed", "err", err)
	}
}

func (c *Controller) countApply(mode, result string) {
	if c.metrics != nil {
		c.metrics.ProxyApplies.WithLabelValues(mode, result).Inc()
	}
}
