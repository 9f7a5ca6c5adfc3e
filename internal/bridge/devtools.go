package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"proxy-pilot-go/internal/model"
)

// ErrHandlerRegistered is returned when a handler is registered while another
// is still in place. Callers unregister before registering.
var ErrHandlerRegistered = errors.New("an auth handler is already registered")

// navBuffer bounds the navigation event queue handed to the watcher.
const navBuffer = 64

// DevTools implements Bridge against a Chromium DevTools connection. Proxy
// settings and browsing-data wipes are driven through the helper extension's
// worker (raw DevTools has no runtime proxy-settings surface); credential
// challenges are intercepted via the Fetch domain on every attached page.
type DevTools struct {
	conn   *Conn
	logger *slog.Logger

	mu         sync.Mutex
	handler    AuthHandler
	targets    map[string]targetInfo // targetID -> last seen info
	sessions   map[string]string     // page targetID -> sessionID
	extSession string                // helper extension worker session

	navs chan model.NavigationEvent
}

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// NewDevTools creates a DevTools bridge on an established connection.
func NewDevTools(conn *Conn, logger *slog.Logger) *DevTools {
	return &DevTools{
		conn:     conn,
		logger:   logger.With("component", "devtools_bridge"),
		targets:  make(map[string]targetInfo),
		sessions: make(map[string]string),
		navs:     make(chan model.NavigationEvent, navBuffer),
	}
}

// Start arms target discovery, page auto-attach and auth interception.
func (d *DevTools) Start(ctx context.Context) error {
	d.conn.On("Target.targetCreated", d.onTargetInfo)
	d.conn.On("Target.targetInfoChanged", d.onTargetInfo)
	d.conn.On("Target.targetDestroyed", d.onTargetDestroyed)
	d.conn.On("Target.attachedToTarget", d.onAttached)
	d.conn.On("Target.detachedFromTarget", d.onDetached)
	d.conn.On("Fetch.authRequired", d.onAuthRequired)
	d.conn.On("Fetch.requestPaused", d.onRequestPaused)

	if err := d.conn.Call(ctx, "", "Target.setDiscoverTargets", map[string]any{
		"discover": true,
	}, nil); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}
	if err := d.conn.Call(ctx, "", "Target.setAutoAttach", map[string]any{
		"autoAttach":             true,
		"waitForDebuggerOnStart": false,
		"flatten":                true,
	}, nil); err != nil {
		return fmt.Errorf("auto attach: %w", err)
	}
	return nil
}

// Subscribe returns the completed-navigation event stream.
func (d *DevTools) Subscribe() <-chan model.NavigationEvent {
	return d.navs
}

// RegisterAuthHandler installs h as the challenge handler for all URLs in
// blocking mode. Fails if a handler is already registered.
func (d *DevTools) RegisterAuthHandler(h AuthHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != nil {
		return ErrHandlerRegistered
	}
	d.handler = h
	return nil
}

// UnregisterAuthHandler removes the registered handler. Removing when none is
// registered is a no-op.
func (d *DevTools) UnregisterAuthHandler() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = nil
	return nil
}

// ApplyFixed installs a fixed-server proxy setting at regular (process)
// scope through the helper extension.
func (d *DevTools) ApplyFixed(ctx context.Context, cfg model.ProxyConfig, bypass []string) error {
	value := map[string]any{
		"mode": "fixed_servers",
		"rules": map[string]any{
			"singleProxy": map[string]any{
				"scheme": "http",
				"host":   cfg.Host,
				"port":   cfg.Port,
			},
			"bypassList": bypass,
		},
	}
	return d.evalInExtension(ctx, proxySettingsExpr(value))
}

// UseSystem reverts the proxy setting to system mode.
func (d *DevTools) UseSystem(ctx context.Context) error {
	return d.evalInExtension(ctx, proxySettingsExpr(map[string]any{"mode": "system"}))
}

// ClearAll wipes all browsing data since epoch 0.
func (d *DevTools) ClearAll(ctx context.Context) error {
	return d.evalInExtension(ctx, clearDataExpr)
}

// Close closes a single tab.
func (d *DevTools) Close(ctx context.Context, tabID string) error {
	return d.conn.Call(ctx, "", "Target.closeTarget", map[string]any{
		"targetId": tabID,
	}, nil)
}

// CloseOthers closes every page target except keepTabID.
func (d *DevTools) CloseOthers(ctx context.Context, keepTabID string) error {
	d.mu.Lock()
	var ids []string
	for id, info := range d.targets {
		if info.Type == "page" && id != keepTabID {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *DevTools) onTargetInfo(_ string, params json.RawMessage) {
	var ev struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		d.logger.Error("decode target info", "err", err)
		return
	}
	info := ev.TargetInfo

	d.mu.Lock()
	prev, known := d.targets[info.TargetID]
	d.targets[info.TargetID] = info
	d.mu.Unlock()

	if info.Type != "page" || info.URL == "" || info.URL == "about:blank" {
		return
	}
	if known && prev.URL == info.URL {
		return
	}

	select {
	case d.navs <- model.NavigationEvent{TabID: info.TargetID, URL: info.URL}:
	default:
		d.logger.Warn("navigation queue full, dropping event", "url", info.URL)
	}
}

func (d *DevTools) onTargetDestroyed(_ string, params json.RawMessage) {
	var ev struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	d.mu.Lock()
	delete(d.targets, ev.TargetID)
	delete(d.sessions, ev.TargetID)
	d.mu.Unlock()
}

func (d *DevTools) onAttached(_ string, params json.RawMessage) {
	var ev struct {
		SessionID  string     `json:"sessionId"`
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		d.logger.Error("decode attach event", "err", err)
		return
	}
	if ev.TargetInfo.Type != "page" {
		return
	}

	d.mu.Lock()
	d.sessions[ev.TargetInfo.TargetID] = ev.SessionID
	d.mu.Unlock()

	// Arm auth interception on the new page. The request is paused until
	// continueWithAuth / continueRequest, which is what gives the handler
	// its blocking semantics.
	if err := d.conn.Call(context.Background(), ev.SessionID, "Fetch.enable", map[string]any{
		"handleAuthRequests": true,
	}, nil); err != nil {
		d.logger.Error("enable auth interception", "err", err, "target", ev.TargetInfo.TargetID)
	}
}

func (d *DevTools) onDetached(_ string, params json.RawMessage) {
	var ev struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	d.mu.Lock()
	for id, sess := range d.sessions {
		if sess == ev.SessionID {
			delete(d.sessions, id)
		}
	}
	if d.extSession == ev.SessionID {
		d.extSession = ""
	}
	d.mu.Unlock()
}

// onRequestPaused passes non-auth pauses straight through; interception is
// enabled only for the sake of authRequired events.
func (d *DevTools) onRequestPaused(sessionID string, params json.RawMessage) {
	var ev struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	if err := d.conn.Call(context.Background(), sessionID, "Fetch.continueRequest", map[string]any{
		"requestId": ev.RequestID,
	}, nil); err != nil {
		d.logger.Debug("continue request", "err", err)
	}
}

func (d *DevTools) onAuthRequired(sessionID string, params json.RawMessage) {
	var ev struct {
		RequestID     string `json:"requestId"`
		AuthChallenge struct {
			Source string `json:"source"`
			Origin string `json:"origin"`
			Scheme string `json:"scheme"`
			Realm  string `json:"realm"`
		} `json:"authChallenge"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		d.logger.Error("decode auth challenge", "err", err)
		return
	}

	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()

	decision := model.Decline()
	if handler != nil {
		decision = handler(model.AuthChallenge{
			ChallengerHost: hostnameOf(ev.AuthChallenge.Origin),
			Scheme:         ev.AuthChallenge.Scheme,
			Realm:          ev.AuthChallenge.Realm,
		})
	}

	response := map[string]any{"response": "Default"}
	switch decision.Action {
	case model.AuthSupply:
		response = map[string]any{
			"response": "ProvideCredentials",
			"username": decision.Username,
			"password": decision.Password,
		}
	case model.AuthCancel:
		response = map[string]any{"response": "CancelAuth"}
	}

	if err := d.conn.Call(context.Background(), sessionID, "Fetch.continueWithAuth", map[string]any{
		"requestId":             ev.RequestID,
		"authChallengeResponse": response,
	}, nil); err != nil {
		d.logger.Error("answer auth challenge", "err", err)
	}
}

// hostnameOf extracts the host (without port) from a challenge origin.
// Returns empty string when the origin is absent or unparseable.
func hostnameOf(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		// Origins sometimes arrive as bare host:port.
		u, err = url.Parse("http://" + origin)
		if err != nil {
			return ""
		}
	}
	return u.Hostname()
}

// evalInExtension evaluates expr in the helper extension's worker. The worker
// can be torn down by the browser at any time, so a failed call drops the
// cached session and retries once against a fresh attachment.
func (d *DevTools) evalInExtension(ctx context.Context, expr string) error {
	sess, err := d.extensionSession(ctx, false)
	if err != nil {
		return err
	}
	if err := d.evaluate(ctx, sess, expr); err != nil {
		sess, ferr := d.extensionSession(ctx, true)
		if ferr != nil {
			return errors.Join(err, ferr)
		}
		return d.evaluate(ctx, sess, expr)
	}
	return nil
}

func (d *DevTools) evaluate(ctx context.Context, sessionID, expr string) error {
	var res struct {
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := d.conn.Call(ctx, sessionID, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"awaitPromise":  true,
		"returnByValue": true,
	}, &res); err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
			msg = res.ExceptionDetails.Exception.Description
		}
		return fmt.Errorf("extension evaluate: %s", msg)
	}
	return nil
}

// extensionSession resolves (and caches) a session attached to the helper
// extension's worker target.
func (d *DevTools) extensionSession(ctx context.Context, refresh bool) (string, error) {
	d.mu.Lock()
	if d.extSession != "" && !refresh {
		sess := d.extSession
		d.mu.Unlock()
		return sess, nil
	}
	var workerID string
	for id, info := range d.targets {
		if isExtensionWorker(info) {
			workerID = id
			break
		}
	}
	d.mu.Unlock()

	if workerID == "" {
		// Discovery may not have delivered the worker yet; ask directly.
		var res struct {
			TargetInfos []targetInfo `json:"targetInfos"`
		}
		if err := d.conn.Call(ctx, "", "Target.getTargets", nil, &res); err != nil {
			return "", fmt.Errorf("list targets: %w", err)
		}
		for _, info := range res.TargetInfos {
			if isExtensionWorker(info) {
				workerID = info.TargetID
				break
			}
		}
	}
	if workerID == "" {
		return "", errors.New("helper extension worker not found")
	}

	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := d.conn.Call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": workerID,
		"flatten":  true,
	}, &res); err != nil {
		return "", fmt.Errorf("attach to extension worker: %w", err)
	}

	d.mu.Lock()
	d.extSession = res.SessionID
	d.mu.Unlock()
	return res.SessionID, nil
}

func isExtensionWorker(info targetInfo) bool {
	if !strings.HasPrefix(info.URL, "chrome-extension://") {
		return false
	}
	return info.Type == "service_worker" || info.Type == "background_page"
}

// proxySettingsExpr builds the chrome.proxy.settings.set expression for the
// given settings value.
func proxySettingsExpr(value map[string]any) string {
	encoded, _ := json.Marshal(value)
	return fmt.Sprintf(`new Promise((resolve, reject) => {
	chrome.proxy.settings.set({value: %s, scope: "regular"}, () => {
		if (chrome.runtime.lastError) {
			reject(new Error(chrome.runtime.lastError.message));
		} else {
			resolve(true);
		}
	});
})`, encoded)
}

// clearDataExpr wipes every browsing-data category since epoch 0.
const clearDataExpr = `new Promise((resolve, reject) => {
	chrome.browsingData.remove({since: 0}, {
		appcache: true,
		cache: true,
		cacheStorage: true,
		cookies: true,
		downloads: true,
		fileSystems: true,
		formData: true,
		history: true,
		indexedDB: true,
		localStorage: true,
		passwords: true,
		serviceWorkers: true,
		webSQL: true
	}, () => {
		if (chrome.runtime.lastError) {
			reject(new Error(chrome.runtime.lastError.message));
		} else {
			resolve(true);
		}
	});
})`
