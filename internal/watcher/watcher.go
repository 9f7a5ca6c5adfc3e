// Package watcher feeds completed navigations into the command dispatcher.
package watcher

import (
	"context"
	"log/slog"

	"proxy-pilot-go/internal/bridge"
	"proxy-pilot-go/internal/model"
)

// URLDispatcher consumes a navigation and reports whether it was a command.
type URLDispatcher interface {
	HandleURL(ctx context.Context, ev model.NavigationEvent) bool
}

// Watcher runs the navigation event loop. Command navigations are consumed
// and their tabs closed; everything else proceeds untouched.
type Watcher struct {
	navs   bridge.Navigations
	tabs   bridge.Tabs
	disp   URLDispatcher
	logger *slog.Logger
}

// New creates a Watcher.
func New(navs bridge.Navigations, tabs bridge.Tabs, disp URLDispatcher, logger *slog.Logger) *Watcher {
	return &Watcher{
		navs:   navs,
		tabs:   tabs,
		disp:   disp,
		logger: logger.With("component", "watcher"),
	}
}

// Start consumes navigation events until ctx is cancelled or the event
// channel closes.
func (w *Watcher) Start(ctx context.Context) {
	events := w.navs.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				w.handle(ctx, ev)
			}
		}
	}()
}

func (w *Watcher) handle(ctx context.Context, ev model.NavigationEvent) {
	if !w.disp.HandleURL(ctx, ev) {
		return
	}
	w.logger.Debug("command consumed, closing tab", "tab", ev.TabID, "url", ev.URL)
	if err := w.tabs.Close(ctx, ev.TabID); err != nil {
		w.logger.Error("closing command tab", "err", err, "tab", ev.TabID)
	}
}
