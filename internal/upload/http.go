package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/auth"
	"github.com/matheus3301/tribe/internal/content"
)

// Sessions supplies the bearer token for authenticated uploads and renews it
// when the store answers 401. *auth.Client satisfies it.
type Sessions interface {
	Token(ctx context.Context) (string, error)
	RefreshStale(ctx context.Context, staleJWT string) (auth.Session, error)
	Logout(ctx context.Context, reason string) error
}

// HTTPGateway PUTs payloads to {base}/{kind}/{id}. The response body may be
// {"url": "..."}; otherwise the Location header or the PUT URL itself is used.
type HTTPGateway struct {
	base     string
	client   *http.Client
	sessions Sessions
	log      *zap.Logger
}

// NewHTTPGateway creates a gateway. sessions may be nil for unauthenticated stores.
func NewHTTPGateway(base string, client *http.Client, sessions Sessions, log *zap.Logger) (*HTTPGateway, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("upload: invalid base url %q: %w", base, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPGateway{
		base:     strings.TrimRight(base, "/"),
		client:   client,
		sessions: sessions,
		log:      log,
	}, nil
}

// Upload PUTs payload. A 401 renews the session and replays the PUT once; a
// second 401 ends the session.
func (g *HTTPGateway) Upload(ctx context.Context, kind content.Kind, id string, payload []byte) (string, error) {
	target := g.base + "/" + string(kind) + "/" + url.PathEscape(id)

	var token string
	if g.sessions != nil {
		tok, err := g.sessions.Token(ctx)
		if err != nil {
			return "", &Error{Temporary: true, Err: fmt.Errorf("token: %w", err)}
		}
		token = tok
	}

	resp, body, err := g.put(ctx, target, token, payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized && g.sessions != nil {
		g.log.Debug("upload token expired, refreshing", zap.String("id", id))
		s, err := g.sessions.RefreshStale(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Retryable once the user has signed in again.
			return "", &Error{Status: http.StatusUnauthorized, Temporary: true, Err: fmt.Errorf("refresh: %w", err)}
		}
		resp, body, err = g.put(ctx, target, s.JWT, payload)
		if err != nil {
			return "", err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			g.log.Warn("upload unauthorized after refresh, logging out", zap.String("id", id))
			if lerr := g.sessions.Logout(ctx, "unauthorized after refresh"); lerr != nil {
				g.log.Error("logout failed", zap.Error(lerr))
			}
			return "", &Error{Status: http.StatusUnauthorized, Temporary: true, Err: errors.New("unauthorized")}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := &Error{
			Status:    resp.StatusCode,
			Temporary: temporaryStatus(resp.StatusCode),
			Err:       errors.New(strings.TrimSpace(http.StatusText(resp.StatusCode))),
		}
		g.log.Warn("upload rejected",
			zap.String("id", id),
			zap.Int("status", resp.StatusCode),
			zap.Bool("temporary", uerr.Temporary),
		)
		return "", uerr
	}

	var out struct {
		URL string `json:"url"`
	}
	if len(body) > 0 && json.Unmarshal(body, &out) == nil && out.URL != "" {
		return out.URL, nil
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return target, nil
}

// put sends one PUT and reads at most 64KiB of the reply.
func (g *HTTPGateway) put(ctx context.Context, target, token string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		g.log.Warn("upload request failed", zap.String("target", target), zap.Error(err))
		return nil, nil, &Error{Temporary: true, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp, body, nil
}
