package auth

import (
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"go.uber.org/zap"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Allow Decision = iota
	Deny
	Throttled
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Throttled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Authorizer is consulted before dispatch with the peer IP and the raw
// Authorization header.
type Authorizer interface {
	Authorize(remoteIP, header string) Decision
	Challenge() string
}

// Guard combines a BasicAuthenticator with an optional RateLimiter.
type Guard struct {
	Authenticator *BasicAuthenticator
	Limiter       *RateLimiter
}

// Authorize throttles blocked IPs before verifying credentials, counts
// failures and clears the IP's record on success.
func (g *Guard) Authorize(remoteIP, header string) Decision {
	if g.Limiter != nil && g.Limiter.Blocked(remoteIP) {
		logging.Warn("Rate limited", zap.String("remote_ip", remoteIP))
		return Throttled
	}

	if !g.Authenticator.Authenticate(header) {
		if g.Limiter != nil {
			g.Limiter.RecordFailure(remoteIP)
		}
		logging.Warn("Auth rejected", zap.String("remote_ip", remoteIP))
		return Deny
	}

	if g.Limiter != nil {
		g.Limiter.Reset(remoteIP)
	}
	return Allow
}

// Challenge returns the authenticator's WWW-Authenticate value.
func (g *Guard) Challenge() string {
	return g.Authenticator.Challenge()
}
