// Package api executes authenticated calls against the tribe server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/auth"
)

// maxBody bounds how much of a response is read.
const maxBody = 8 << 20

// Sessions is the subset of auth.Client the pipeline needs.
type Sessions interface {
	Token(ctx context.Context) (string, error)
	NeedsRefresh(now time.Time) bool
	Refresh(ctx context.Context) (auth.Session, error)
	RefreshStale(ctx context.Context, staleJWT string) (auth.Session, error)
	Logout(ctx context.Context, reason string) error
}

// Request describes one API call. Path is already escaped; callers escape
// path segments with url.PathEscape. Body is JSON-encoded unless RawBody is set.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    any
	RawBody []byte
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Pipeline sends requests with the current bearer token. A 401 triggers one
// refresh followed by exactly one replay.
type Pipeline struct {
	base     *url.URL
	http     *http.Client
	sessions Sessions
	log      *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline for baseURL.
func NewPipeline(baseURL string, client *http.Client, sessions Sessions, log *zap.Logger) (*Pipeline, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{Kind: KindInvalidRequest, Err: errors.New("invalid base url " + baseURL)}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{base: u, http: client, sessions: sessions, log: log, now: time.Now}, nil
}

// Do executes req. The body is buffered so the replay resends the same bytes.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	target, err := p.resolve(req)
	if err != nil {
		return nil, err
	}

	if p.sessions.NeedsRefresh(p.now()) {
		if _, err := p.sessions.Refresh(ctx); err != nil {
			if errors.Is(err, auth.ErrRefreshRejected) || errors.Is(err, auth.ErrNoSession) {
				return nil, &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Err: err}
			}
			// The server still decides; a failed proactive refresh is not fatal.
			p.log.Debug("proactive refresh failed", zap.Error(err))
		}
	}

	token, err := p.sessions.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Err: err}
	}

	resp, err := p.send(ctx, req, target, body, token)
	if err == nil {
		return resp, nil
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindAuthExpired {
		return nil, err
	}

	p.log.Debug("token expired, refreshing", zap.String("path", req.Path))
	s, err := p.sessions.RefreshStale(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshRejected) || errors.Is(err, auth.ErrNoSession) {
			return nil, &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Err: err}
		}
		return nil, &Error{Kind: KindRaw, Err: err}
	}

	resp, err = p.send(ctx, req, target, body, s.JWT)
	if err == nil {
		return resp, nil
	}
	if errors.As(err, &ae) && ae.Kind == KindAuthExpired {
		p.log.Warn("request unauthorized after refresh, logging out", zap.String("path", req.Path))
		if lerr := p.sessions.Logout(ctx, "unauthorized after refresh"); lerr != nil {
			p.log.Error("logout failed", zap.Error(lerr))
		}
		return nil, &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: ae.Message}
	}
	return nil, err
}

// Call executes req and decodes a JSON response into T. An empty body yields
// the zero value.
func Call[T any](ctx context.Context, p *Pipeline, req Request) (T, error) {
	var out T
	resp, err := p.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &Error{Kind: KindDecoding, Status: resp.Status, Err: err}
	}
	return out, nil
}

func (p *Pipeline) resolve(req Request) (string, error) {
	if req.Method == "" || !strings.HasPrefix(req.Path, "/") {
		return "", &Error{Kind: KindInvalidRequest, Err: errors.New("method and absolute path are required")}
	}
	u := *p.base
	escaped := p.base.EscapedPath() + req.Path
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", &Error{Kind: KindInvalidRequest, Err: err}
	}
	u.Path, u.RawPath = path, escaped
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String(), nil
}

func encodeBody(req Request) ([]byte, error) {
	if req.RawBody != nil {
		return req.RawBody, nil
	}
	if req.Body == nil {
		return nil, nil
	}
	b, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Err: err}
	}
	return b, nil
}

func (p *Pipeline) send(ctx context.Context, req Request, target string, body []byte, token string) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, rd)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if body != nil && req.RawBody == nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := p.http.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindRaw, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindRaw, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{Kind: KindRaw, Status: resp.StatusCode, Err: err}
	}

	p.log.Debug("api call",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthExpired, Status: resp.StatusCode, Message: errorMessage(data)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindHTTP, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// errorMessage extracts {"error": ...} or {"message": ...} from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
