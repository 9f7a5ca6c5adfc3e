package command

import (
	"context"
	"log/slog"
	"strings"

	"proxy-pilot-go/internal/bridge"
	"proxy-pilot-go/internal/metrics"
	"proxy-pilot-go/internal/model"
)

// ProxyController is the controller surface the dispatcher drives.
type ProxyController interface {
	SetProxy(ctx context.Context, cfg model.ProxyConfig) error
	ResetProxy(ctx context.Context) error
}

// Dispatcher matches navigation URLs against the command prefixes and routes
// recognized commands to the controller and browser primitives.
type Dispatcher struct {
	scheme  string
	ctrl    ProxyController
	data    bridge.BrowsingData
	tabs    bridge.Tabs
	initFn  func(ctx context.Context) error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher for the given command scheme (e.g.
// "chrome" recognizes chrome://set_proxy/… and friends). initFn re-runs full
// initialization for the init_extension command. The metrics parameter is
// optional; pass nil to disable command metrics.
func NewDispatcher(scheme string, ctrl ProxyController, data bridge.BrowsingData, tabs bridge.Tabs, initFn func(ctx context.Context) error, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		scheme:  scheme,
		ctrl:    ctrl,
		data:    data,
		tabs:    tabs,
		initFn:  initFn,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// HandleURL checks ev.URL against the command prefixes in priority order and
// executes the matching command. The return value is a consumption signal:
// true means the navigation was a command (the triggering tab should be
// closed), false means it is real browsing and must proceed untouched.
//
// Command failures are logged and absorbed: a recognized command counts as
// consumed even when its action fails. The one exception is a set_proxy URL
// whose configuration does not parse: that is treated as not recognized.
func (d *Dispatcher) HandleURL(ctx context.Context, ev model.NavigationEvent) bool {
	switch {
	case d.matches(ev.URL, "set_proxy/"):
		cfg := ParseProxyConfig(ev.URL)
		if cfg == nil {
			d.logger.Debug("set_proxy URL did not parse, ignoring", "url", ev.URL)
			d.countCommand(model.CommandSetProxy, "invalid")
			return false
		}
		if err := d.ctrl.SetProxy(ctx, *cfg); err != nil {
			d.countCommand(model.CommandSetProxy, "error")
		} else {
			d.countCommand(model.CommandSetProxy, "ok")
		}
		return true

	case d.matches(ev.URL, "reset_proxy"):
		if err := d.ctrl.ResetProxy(ctx); err != nil {
			d.countCommand(model.CommandResetProxy, "error")
		} else {
			d.countCommand(model.CommandResetProxy, "ok")
		}
		return true

	case d.matches(ev.URL, "clear_data"):
		if err := d.data.ClearAll(ctx); err != nil {
			d.logger.Error("clearing browsing data", "err", err)
			d.countCommand(model.CommandClearData, "error")
		} else {
			d.countCommand(model.CommandClearData, "ok")
		}
		return true

	case d.matches(ev.URL, "close_tabs"):
		if err := d.tabs.CloseOthers(ctx, ev.TabID); err != nil {
			d.logger.Error("closing tabs", "err", err)
			d.countCommand(model.CommandCloseTabs, "error")
		} else {
			d.countCommand(model.CommandCloseTabs, "ok")
		}
		return true

	case d.matches(ev.URL, "init_extension"):
		if err := d.initFn(ctx); err != nil {
			d.logger.Error("re-running initialization", "err", err)
			d.countCommand(model.CommandInit, "error")
		} else {
			d.countCommand(model.CommandInit, "ok")
		}
		return true
	}

	return false
}

// matches reports whether url starts with scheme://name. Case-sensitive.
func (d *Dispatcher) matches(url, name string) bool {
	return strings.HasPrefix(url, d.scheme+"://"+name)
}

func (d *Dispatcher) countCommand(cmd model.Command, outcome string) {
	if d.metrics != nil {
		d.metrics.CommandsTotal.WithLabelValues(string(cmd), outcome).Inc()
	}
}
