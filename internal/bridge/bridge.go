// Package bridge exposes the browser primitives the commander drives:
// proxy settings, credential-challenge interception, browsing-data wipes,
// tab control and navigation events.
package bridge

import (
	"context"

	"proxy-pilot-go/internal/model"
)

// AuthHandler answers a proxy credential challenge. The browser pauses the
// challenged request until the handler returns, so implementations must not
// perform unbounded-latency work.
type AuthHandler func(model.AuthChallenge) model.AuthDecision

// ProxySettings applies proxy configuration at process scope.
type ProxySettings interface {
	// ApplyFixed installs a fixed-server proxy (forward scheme http) with the
	// given bypass list.
	ApplyFixed(ctx context.Context, cfg model.ProxyConfig, bypass []string) error

	// UseSystem reverts to the system proxy configuration.
	UseSystem(ctx context.Context) error
}

// AuthGate delivers credential challenges to a single registered handler in
// blocking mode. At most one handler is registered at a time; registering
// replaces nothing; callers unregister first.
type AuthGate interface {
	RegisterAuthHandler(h AuthHandler) error
	UnregisterAuthHandler() error
}

// BrowsingData wipes browser-held data.
type BrowsingData interface {
	// ClearAll removes all browsing data (cache, cookies, history, local
	// storage, passwords, service workers, …) accumulated since epoch 0.
	ClearAll(ctx context.Context) error
}

// Tabs closes browser tabs by identifier.
type Tabs interface {
	Close(ctx context.Context, tabID string) error
	CloseOthers(ctx context.Context, keepTabID string) error
}

// Navigations delivers completed-navigation events.
type Navigations interface {
	Subscribe() <-chan model.NavigationEvent
}

// Bridge is the full collaborator surface consumed by the commander.
type Bridge interface {
	ProxySettings
	AuthGate
	BrowsingData
	Tabs
	Navigations
}
