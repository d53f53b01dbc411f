package remote

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceKeyClaims is the subset of the static API key we care about. The
// key is issued by the data service operator, not by us, so we decode it
// without signature verification; the remote side is the one that verifies.
type ServiceKeyClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseServiceKey decodes the configured service key and rejects keys that
// are expired or about to expire. Called once at startup so a stale key
// fails fast instead of producing 401s on every sync.
func ParseServiceKey(key string, now time.Time) (*ServiceKeyClaims, error) {
	claims := &ServiceKeyClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(key, claims); err != nil {
		return nil, fmt.Errorf("service key is not a valid JWT: %w", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return nil, fmt.Errorf("service key expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("service key carries no role claim")
	}
	return claims, nil
}

// ExpiresSoon reports whether the key expires within the given window, for
// a startup warning before it actually lapses.
func (c *ServiceKeyClaims) ExpiresSoon(now time.Time, window time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now.Add(window))
}
