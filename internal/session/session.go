// Package session tracks authenticated login sessions and issues the signed
// access/refresh token pair bound to each one.
//
// The registry is advisory state layered on top of stateless JWT verification:
// absence of a session is reported as a nil result, never as an error. Expiry is
// lazy (checked on access) with a periodic sweep as the backstop for sessions
// that are never touched again.
package session

import (
	"time"
)

type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Expired reports whether the session has been idle longer than timeout.
func (s Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

type Identity struct {
	UserID string
	Email  string
	Role   string
}

// RequestContext carries provenance used for audit only.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

type Issued struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Stats struct {
	TotalActiveSessions    int     `json:"totalActiveSessions"`
	UniqueUsers            int     `json:"uniqueUsers"`
	AverageSessionsPerUser float64 `json:"averageSessionsPerUser"`
	MaxSessionsPerUser     int     `json:"maxSessionsPerUser"`
}

type Config struct {
	Timeout            time.Duration
	MaxSessionsPerUser int
	SweepInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Minute,
		MaxSessionsPerUser: 5,
		SweepInterval:      5 * time.Minute,
	}
}
