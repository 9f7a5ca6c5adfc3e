// Package model defines shared types for the proxy commander.
package model

import "fmt"

// ProxyConfig describes an HTTP forward proxy to route browser traffic
// through. Host and Port are always present on a valid config; credentials
// are optional and are not required to travel as a pair.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// HasCredentials reports whether both a username and a password are present.
func (c ProxyConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Server returns the host:port form used by proxy settings rules.
func (c ProxyConfig) Server() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Redacted returns a loggable description with the password masked.
func (c ProxyConfig) Redacted() string {
	if c.Username == "" {
		return c.Server()
	}
	return fmt.Sprintf("%s:***@%s", c.Username, c.Server())
}

// Command identifies a recognized command URL. Commands are resolved per
// incoming URL and never stored.
type Command string

// Recognized commands, in dispatch priority order.
const (
	CommandSetProxy   Command = "set_proxy"
	CommandResetProxy Command = "reset_proxy"
	CommandClearData  Command = "clear_data"
	CommandCloseTabs  Command = "close_tabs"
	CommandInit       Command = "init_extension"
)

// AuthChallenge is a proxy credential challenge delivered by the browser.
// ChallengerHost is empty when the browser did not report an origin.
type AuthChallenge struct {
	ChallengerHost string
	Scheme         string
	Realm          string
}

// AuthAction is the kind of answer given to a credential challenge.
type AuthAction int

const (
	// AuthDecline takes no action; the browser's native prompt or failure
	// path takes over.
	AuthDecline AuthAction = iota
	// AuthSupply answers the challenge with credentials.
	AuthSupply
	// AuthCancel aborts the request that triggered the challenge.
	AuthCancel
)

// AuthDecision is the handler's answer to a challenge. Username and Password
// are meaningful only when Action is AuthSupply.
type AuthDecision struct {
	Action   AuthAction
	Username string
	Password string
}

// Supply returns a decision that answers the challenge with credentials.
func Supply(username, password string) AuthDecision {
	return AuthDecision{Action: AuthSupply, Username: username, Password: password}
}

// Cancel returns a decision that aborts the challenged request.
func Cancel() AuthDecision {
	return AuthDecision{Action: AuthCancel}
}

// Decline returns a decision that leaves the challenge unanswered.
func Decline() AuthDecision {
	return AuthDecision{Action: AuthDecline}
}

// NavigationEvent is a completed navigation in some tab.
type NavigationEvent struct {
	TabID string
	URL   string
}
