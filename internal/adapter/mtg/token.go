package mtg

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultTokenLifetime = 50 * time.Minute
	tokenSafetyMargin    = 5 * time.Minute
)

// tokenCache holds one bearer token and decides when it must be refreshed.
// It is owned by a single Client and guarded by the client's mutex.
type tokenCache struct {
	clock     clockwork.Clock
	token     string
	expiresAt time.Time
}

func newTokenCache(clock clockwork.Clock) tokenCache {
	return tokenCache{clock: clock}
}

// current returns the token if it is still comfortably within its lifetime.
func (t *tokenCache) current() (string, bool) {
	if t.token == "" || !t.clock.Now().Before(t.expiresAt) {
		return "", false
	}
	return t.token, true
}

// store records a fresh token. A non-positive lifetime falls back to the default.
func (t *tokenCache) store(token string, lifetime time.Duration) {
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	margin := tokenSafetyMargin
	if lifetime <= margin {
		margin = lifetime / 2
	}
	t.token = token
	t.expiresAt = t.clock.Now().Add(lifetime - margin)
}

func (t *tokenCache) invalidate() {
	t.token = ""
	t.expiresAt = time.Time{}
}
