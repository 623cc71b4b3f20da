// Package auth owns the process-wide session: the bearer JWT, its refresh
// token and the signed-in user's profile.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Keystore keys.
const (
	KeySession = "auth.session"
	KeyProfile = "auth.profile"
)

var (
	// ErrNoSession means nobody is signed in.
	ErrNoSession = errors.New("auth: no session")
	// ErrRefreshRejected means the server refused the refresh token itself.
	// The session has been cleared and the user must sign in again.
	ErrRefreshRejected = errors.New("auth: refresh token rejected")
)

// Session is the current credential pair.
type Session struct {
	JWT             string    `json:"jwt"`
	RefreshToken    string    `json:"refresh_token"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// UserProfile is the signed-in user as returned by the server.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	PublicKey   []byte `json:"public_key,omitempty"`
}

// SessionChange is the bus payload for auth events.
type SessionChange struct {
	UserID string
	Reason string
}

// Claims are the fields read from the bearer token. The signature is not
// checked here; the server does that on every request.
type Claims struct {
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of a JWT without verifying it.
func ParseClaims(token string) (Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// ExpiresWithin reports whether the session's token expires before now+skew.
// Tokens without a readable exp claim are never considered expiring.
func (s Session) ExpiresWithin(now time.Time, skew time.Duration) bool {
	c, err := ParseClaims(s.JWT)
	if err != nil || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.Time.After(now.Add(skew))
}
