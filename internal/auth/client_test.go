package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/keystore"
)

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testClient(t *testing.T, url string, ks keystore.Store, b *bus.Bus) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: url, Window: time.Second}, ks, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func login(t *testing.T, c *Client) {
	t.Helper()
	err := c.Login(context.Background(),
		Session{JWT: "old-jwt", RefreshToken: "rt-1"},
		UserProfile{ID: "u1", Username: "alice"},
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentRefreshSingleRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/auth/refresh" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		ck, err := r.Cookie("refresh_token")
		if err != nil || ck.Value != "rt-1" {
			t.Errorf("refresh cookie = %v, %v", ck, err)
		}
		if got := r.Header.Get("X-Refresh-Token"); got != "rt-1" {
			t.Errorf("X-Refresh-Token = %q", got)
		}
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"jwt":"new-jwt","refresh_token":"rt-2","user":{"id":"u1","username":"alice"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, keystore.NewMemory(), nil)
	login(t, c)

	const callers = 8
	results := make([]Session, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	if n := hits.Load(); n != 1 {
		t.Errorf("refresh endpoint hit %d times, want 1", n)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].JWT != "new-jwt" || results[i].RefreshToken != "rt-2" {
			t.Errorf("caller %d saw %+v", i, results[i])
		}
	}
}

func TestRefreshPersistsSessionAndProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jwt":"new-jwt","user":{"id":"u1","username":"alice2"}}`))
	}))
	defer srv.Close()

	ks := keystore.NewMemory()
	c := testClient(t, srv.URL, ks, nil)
	login(t, c)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	reloaded := testClient(t, srv.URL, ks, nil)
	s, ok := reloaded.Current()
	if !ok {
		t.Fatal("session not persisted")
	}
	if s.JWT != "new-jwt" || s.RefreshToken != "rt-1" {
		t.Errorf("session = %+v, want new jwt and kept refresh token", s)
	}
	if s.LastRefreshedAt.IsZero() {
		t.Error("LastRefreshedAt not recorded")
	}
	p, _ := reloaded.Profile()
	if p.Username != "alice2" {
		t.Errorf("profile = %+v", p)
	}
}

func TestRefreshWithinWindowSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"jwt":"new-jwt"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, keystore.NewMemory(), nil)
	login(t, c)
	for range 3 {
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("hits = %d, want 1", n)
	}
}

func TestRefreshStaleReturnsNewerSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, keystore.NewMemory(), nil)
	login(t, c)
	s, err := c.RefreshStale(context.Background(), "some-older-jwt")
	if err != nil {
		t.Fatal(err)
	}
	if s.JWT != "old-jwt" {
		t.Errorf("jwt = %q", s.JWT)
	}
}

func TestRejectedRefreshLogsOut(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		ks := keystore.NewMemory()
		b := bus.New()
		events, unsub := b.Subscribe("auth.logged_out", 4)
		c := testClient(t, srv.URL, ks, b)
		login(t, c)

		_, err := c.Refresh(context.Background())
		srv.Close()
		unsub()

		if !errors.Is(err, ErrRefreshRejected) {
			t.Fatalf("status %d: err = %v, want ErrRefreshRejected", status, err)
		}
		if _, ok := c.Current(); ok {
			t.Errorf("status %d: session survived rejection", status)
		}
		if raw, _ := ks.GetRaw(KeySession); raw != nil {
			t.Errorf("status %d: persisted session survived rejection", status)
		}
		select {
		case evt := <-events:
			p, ok := bus.PayloadAs[SessionChange](evt)
			if !ok || p.UserID != "u1" {
				t.Errorf("status %d: payload = %#v", status, evt.Payload)
			}
		default:
			t.Errorf("status %d: no LoggedOut event", status)
		}
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, keystore.NewMemory(), nil)
	login(t, c)
	_, err := c.Refresh(context.Background())
	if err == nil || errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, want retryable failure", err)
	}
	if _, ok := c.Current(); !ok {
		t.Error("session cleared on a retryable failure")
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	c := testClient(t, "http://unused", keystore.NewMemory(), nil)
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if _, err := c.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token err = %v, want ErrNoSession", err)
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	c := testClient(t, "http://unused", keystore.NewMemory(), nil)
	if c.NeedsRefresh(now) {
		t.Error("no session should not need refresh")
	}

	err := c.Login(context.Background(), Session{JWT: signed(t, "u1", now.Add(10*time.Second)), RefreshToken: "rt"}, UserProfile{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !c.NeedsRefresh(now) {
		t.Error("token expiring in 10s should need refresh")
	}

	err = c.Login(context.Background(), Session{JWT: signed(t, "u1", now.Add(time.Hour)), RefreshToken: "rt"}, UserProfile{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if c.NeedsRefresh(now) {
		t.Error("token valid for an hour should not need refresh")
	}

	claims, err := ParseClaims(signed(t, "u9", now.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "u9" {
		t.Errorf("subject = %q", claims.Subject)
	}
}
