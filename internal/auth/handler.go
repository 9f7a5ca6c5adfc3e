// Package auth builds per-configuration credential challenge handlers.
package auth

import (
	"log/slog"

	"proxy-pilot-go/internal/metrics"
	"proxy-pilot-go/internal/model"
)

// Handler answers proxy credential challenges for one proxy configuration.
type Handler func(model.AuthChallenge) model.AuthDecision

// NewHandler creates a challenge handler bound to cfg.
//
// When cfg carries no credentials, the handler declines every challenge and
// the browser's native prompt or failure path takes over. Otherwise the
// handler supplies cfg's credentials, unless the challenge reports a
// challenger host that differs from cfg.Host. That means a handler from a
// previous configuration is still registered and being invoked for a
// different proxy; the handler cancels the challenge and asks heal to reset
// and reapply cfg. heal is invoked at most once per challenge, so a mismatch
// triggers exactly one reset+reapply cycle.
//
// The metrics parameter is optional; pass nil to disable challenge metrics.
func NewHandler(cfg model.ProxyConfig, logger *slog.Logger, m *metrics.Metrics, heal func(model.ProxyConfig)) Handler {
	logger = logger.With("component", "auth_handler")

	if !cfg.HasCredentials() {
		return func(ch model.AuthChallenge) model.AuthDecision {
			logger.Debug("no credentials configured, declining challenge",
				"challenger_host", ch.ChallengerHost,
			)
			if m != nil {
				m.AuthChallenges.WithLabelValues("decline").Inc()
			}
			return model.Decline()
		}
	}

	return func(ch model.AuthChallenge) model.AuthDecision {
		if ch.ChallengerHost != "" && ch.ChallengerHost != cfg.Host {
			logger.Warn("challenge from unexpected host, cancelling and healing",
				"challenger_host", ch.ChallengerHost,
				"configured_host", cfg.Host,
			)
			if m != nil {
				m.AuthChallenges.WithLabelValues("cancel").Inc()
			}
			heal(cfg)
			return model.Cancel()
		}

		logger.Debug("supplying credentials",
			"challenger_host", ch.ChallengerHost,
			"username", cfg.Username,
		)
		if m != nil {
			m.AuthChallenges.WithLabelValues("supply").Inc()
		}
		return model.Supply(cfg.Username, cfg.Password)
	}
}
