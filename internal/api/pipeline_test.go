package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/tribe/internal/auth"
	"github.com/matheus3301/tribe/internal/crypto"
)

// mockSessions hands out token "t<N>" where N counts successful refreshes.
type mockSessions struct {
	token      string
	refreshes  atomic.Int32
	refreshErr error
	loggedOut  atomic.Bool
	expiring   bool
}

func (m *mockSessions) Token(context.Context) (string, error) {
	if m.loggedOut.Load() {
		return "", auth.ErrNoSession
	}
	return m.token, nil
}

func (m *mockSessions) NeedsRefresh(time.Time) bool { return m.expiring }

func (m *mockSessions) Refresh(ctx context.Context) (auth.Session, error) {
	return m.RefreshStale(ctx, m.token)
}

func (m *mockSessions) RefreshStale(context.Context, string) (auth.Session, error) {
	if m.refreshErr != nil {
		return auth.Session{}, m.refreshErr
	}
	m.refreshes.Add(1)
	m.token = "fresh"
	m.expiring = false
	return auth.Session{JWT: m.token}, nil
}

func (m *mockSessions) Logout(context.Context, string) error {
	m.loggedOut.Store(true)
	return nil
}

func newPipeline(t *testing.T, srv *httptest.Server, s Sessions) *Pipeline {
	t.Helper()
	p, err := NewPipeline(srv.URL, srv.Client(), s, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReplayOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"m1"}`))
	}))
	defer srv.Close()

	s := &mockSessions{token: "stale"}
	p := newPipeline(t, srv, s)

	got, err := Call[PostedMessage](context.Background(), p, Request{
		Method: http.MethodPost,
		Path:   "/tribes/t1/messages",
		Body:   map[string]string{"kind": "text"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "m1" {
		t.Errorf("id = %q", got.ID)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
	if n := s.refreshes.Load(); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[0] == "" {
		t.Errorf("replayed body differs: %q", bodies)
	}
}

func TestSecond401IsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &mockSessions{token: "stale"}
	p := newPipeline(t, srv, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want terminal unauthorized", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want exactly 2 (original + one replay)", n)
	}
	if !s.loggedOut.Load() {
		t.Error("terminal auth error did not log out")
	}
}

func TestRejectedRefreshIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &mockSessions{token: "stale", refreshErr: auth.ErrRefreshRejected}
	p := newPipeline(t, srv, s)

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/me"})
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if !errors.Is(err, auth.ErrRefreshRejected) {
		t.Errorf("err should wrap ErrRefreshRejected: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1 (no replay without a new token)", n)
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"tribe not found"}`, "tribe not found"},
		{"message field", `{"message":"slow down"}`, "slow down"},
		{"plain text", `oops`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := &mockSessions{token: "t"}
			_, err := newPipeline(t, srv, s).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v", err)
			}
			if ae.Kind != KindHTTP || ae.Status != http.StatusNotFound || ae.Message != tt.want {
				t.Errorf("got %+v, want HTTP 404 %q", ae, tt.want)
			}
			if s.refreshes.Load() != 0 {
				t.Error("non-401 error triggered a refresh")
			}
		})
	}
}

func TestDecodingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	_, err := Call[PostedMessage](context.Background(), newPipeline(t, srv, &mockSessions{token: "t"}), Request{Method: http.MethodGet, Path: "/x"})
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindDecoding {
		t.Errorf("err = %v, want decoding error", err)
	}
}

func TestTransportErrorIsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := newPipeline(t, srv, &mockSessions{token: "t"})
	srv.Close()

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindRaw {
		t.Errorf("err = %v, want raw transport error", err)
	}
}

func TestInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid request reached the server")
	}))
	defer srv.Close()
	p := newPipeline(t, srv, &mockSessions{token: "t"})

	for _, req := range []Request{
		{Method: http.MethodGet, Path: "relative"},
		{Method: http.MethodPost, Path: "/x", Body: make(chan int)},
	} {
		_, err := p.Do(context.Background(), req)
		var ae *Error
		if !errors.As(err, &ae) || ae.Kind != KindInvalidRequest {
			t.Errorf("%+v: err = %v, want invalid request", req, err)
		}
	}
}

func TestProactiveRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := &mockSessions{token: "about-to-expire", expiring: true}
	if _, err := newPipeline(t, srv, s).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 || s.refreshes.Load() != 1 {
		t.Errorf("calls = %d refreshes = %d, want 1 and 1", calls.Load(), s.refreshes.Load())
	}
}

func TestPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tribes/t1/messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var msg OutgoingMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Kind != "image" || msg.URL == "" || len(msg.WrappedKeys) != 1 {
			t.Errorf("message = %+v", msg)
		}
		w.Write([]byte(`{"id":"srv-1"}`))
	}))
	defer srv.Close()

	p, err := NewPipeline(srv.URL+"/v1/", srv.Client(), &mockSessions{token: "t"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := PostMessage(context.Background(), p, "t1", OutgoingMessage{
		ClientID:    "d1",
		Kind:        "image",
		URL:         "https://cdn/image/p1",
		WrappedKeys: []crypto.WrappedKey{{RecipientKeyID: "k", EncryptedKey: []byte{1}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "srv-1" {
		t.Errorf("id = %q", got.ID)
	}
}

func TestPostMessageEscapesTribeID(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.EscapedPath()
		mu.Unlock()
		w.Write([]byte(`{"id":"srv-1"}`))
	}))
	defer srv.Close()

	p, err := NewPipeline(srv.URL, srv.Client(), &mockSessions{token: "t"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := PostMessage(context.Background(), p, "a/b c?", OutgoingMessage{ClientID: "d1", Kind: "text"}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/tribes/a%2Fb%20c%3F/messages" {
		t.Errorf("path = %q", gotPath)
	}
}
