package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/keystore"
)

const (
	refreshPath   = "/auth/refresh"
	refreshCookie = "refresh_token"
	refreshHeader = "X-Refresh-Token"

	// ExpirySkew is how early NeedsRefresh reports a token as expiring.
	ExpirySkew = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Window is the coalescing window: a refresh completed less than Window
	// ago is reused instead of hitting the server again.
	Window time.Duration
	HTTP   *http.Client
	Now    func() time.Time
}

// Client holds the session and performs single-flight refreshes. It is the
// only writer of session state.
type Client struct {
	base   string
	window time.Duration
	http   *http.Client
	now    func() time.Time
	ks     keystore.Store
	bus    *bus.Bus
	log    *zap.Logger

	mu      sync.RWMutex
	session *Session
	profile *UserProfile

	flight singleflight.Group
}

// NewClient creates a client and loads any persisted session.
func NewClient(opts Options, ks keystore.Store, b *bus.Bus, log *zap.Logger) (*Client, error) {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		window: opts.Window,
		http:   opts.HTTP,
		now:    opts.Now,
		ks:     ks,
		bus:    b,
		log:    log,
	}

	s, ok, err := keystore.Get[Session](ks, KeySession)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if ok {
		c.session = &s
	}
	p, ok, err := keystore.Get[UserProfile](ks, KeyProfile)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		c.profile = &p
	}
	return c, nil
}

// Current returns a copy of the session.
func (c *Client) Current() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile() (UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return UserProfile{}, false
	}
	return *c.profile, true
}

// Token returns the current bearer token.
func (c *Client) Token(context.Context) (string, error) {
	s, ok := c.Current()
	if !ok || s.JWT == "" {
		return "", ErrNoSession
	}
	return s.JWT, nil
}

// NeedsRefresh reports whether the bearer token expires within ExpirySkew of now.
func (c *Client) NeedsRefresh(now time.Time) bool {
	s, ok := c.Current()
	return ok && s.ExpiresWithin(now, ExpirySkew)
}

// Login installs a session obtained from the sign-in flow and persists it
// together with the profile.
func (c *Client) Login(_ context.Context, s Session, p UserProfile) error {
	if s.JWT == "" || s.RefreshToken == "" {
		return fmt.Errorf("auth: login requires jwt and refresh token")
	}
	if err := new(keystore.Batch).Put(KeySession, s).Put(KeyProfile, p).Commit(c.ks); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.mu.Lock()
	c.session = &s
	c.profile = &p
	c.mu.Unlock()

	c.log.Info("logged in", zap.String("user_id", p.ID))
	c.bus.Emit(bus.SessionRefreshed, SessionChange{UserID: p.ID, Reason: "login"})
	return nil
}

// Logout clears the session and profile and publishes LoggedOut.
func (c *Client) Logout(_ context.Context, reason string) error {
	c.mu.Lock()
	var userID string
	if c.profile != nil {
		userID = c.profile.ID
	}
	had := c.session != nil
	c.session = nil
	c.profile = nil
	c.mu.Unlock()

	if err := c.ks.Delete(KeySession, KeyProfile); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if had {
		c.log.Info("logged out", zap.String("reason", reason))
		c.bus.Emit(bus.LoggedOut, SessionChange{UserID: userID, Reason: reason})
	}
	return nil
}

// Refresh renews the session. Concurrent callers share one network request,
// and a refresh that completed within the coalescing window is returned as is.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	s, ok := c.Current()
	if !ok {
		return Session{}, ErrNoSession
	}
	if c.fresh(s) {
		return s, nil
	}
	return c.refreshShared(ctx)
}

// RefreshStale renews the session after staleJWT was rejected. If the
// session already moved past staleJWT, the current session is returned.
func (c *Client) RefreshStale(ctx context.Context, staleJWT string) (Session, error) {
	s, ok := c.Current()
	if !ok {
		return Session{}, ErrNoSession
	}
	if s.JWT != staleJWT {
		return s, nil
	}
	return c.Refresh(ctx)
}

func (c *Client) fresh(s Session) bool {
	return c.window > 0 && !s.LastRefreshedAt.IsZero() && c.now().Sub(s.LastRefreshedAt) < c.window
}

func (c *Client) refreshShared(ctx context.Context) (Session, error) {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		// The flight outlives any single caller; the HTTP client timeout bounds it.
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

type refreshResponse struct {
	JWT          string       `json:"jwt"`
	RefreshToken string       `json:"refresh_token"`
	User         *UserProfile `json:"user"`
}

func (c *Client) doRefresh(ctx context.Context) (Session, error) {
	cur, ok := c.Current()
	if !ok {
		return Session{}, ErrNoSession
	}
	// Re-checked inside the flight for callers that lost the race with a
	// flight that just finished.
	if c.fresh(cur) {
		return cur, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+refreshPath, nil)
	if err != nil {
		return Session{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: cur.RefreshToken})
	req.Header.Set(refreshHeader, cur.RefreshToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("refresh request failed", zap.Error(err))
		return Session{}, fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		c.log.Warn("refresh token rejected", zap.Int("status", resp.StatusCode))
		if err := c.Logout(ctx, "refresh rejected"); err != nil {
			c.log.Error("logout after rejected refresh", zap.Error(err))
		}
		return Session{}, ErrRefreshRejected
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Session{}, fmt.Errorf("refresh: unexpected status %d", resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Session{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.JWT == "" {
		return Session{}, fmt.Errorf("refresh: response without jwt")
	}

	next := Session{
		JWT:             body.JWT,
		RefreshToken:    body.RefreshToken,
		LastRefreshedAt: c.now(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}

	batch := new(keystore.Batch).Put(KeySession, next)
	if body.User != nil {
		batch.Put(KeyProfile, *body.User)
	}
	if err := batch.Commit(c.ks); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}

	c.mu.Lock()
	// A logout while the request was in flight wins.
	if c.session == nil {
		c.mu.Unlock()
		_ = c.ks.Delete(KeySession, KeyProfile)
		return Session{}, ErrNoSession
	}
	c.session = &next
	if body.User != nil {
		p := *body.User
		c.profile = &p
	}
	var userID string
	if c.profile != nil {
		userID = c.profile.ID
	}
	c.mu.Unlock()

	c.log.Info("session refreshed", zap.String("user_id", userID))
	c.bus.Emit(bus.SessionRefreshed, SessionChange{UserID: userID, Reason: "refresh"})
	return next, nil
}
