package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/matheus3301/tribe/internal/auth"
	"github.com/matheus3301/tribe/internal/content"
)

type fakeSessions struct {
	mu        sync.Mutex
	token     string
	renewed   string
	refreshes int
	logouts   int
}

func (f *fakeSessions) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeSessions) RefreshStale(_ context.Context, stale string) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.renewed == "" {
		return auth.Session{}, auth.ErrRefreshRejected
	}
	if f.token == stale {
		f.token = f.renewed
	}
	return auth.Session{JWT: f.token}, nil
}

func (f *fakeSessions) Logout(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func TestHTTPGatewayPut(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"url":"https://cdn.example/image/p1"}`))
	}))
	defer srv.Close()

	g, err := NewHTTPGateway(srv.URL+"/", srv.Client(), &fakeSessions{token: "tok"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	u, err := g.Upload(context.Background(), content.KindImage, "p1", []byte("cipher"))
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://cdn.example/image/p1" {
		t.Errorf("url = %q", u)
	}
	if gotPath != "/image/p1" {
		t.Errorf("path = %q, want /image/p1", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if string(gotBody) != "cipher" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestHTTPGatewayFallsBackToTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g, err := NewHTTPGateway(srv.URL, srv.Client(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	u, err := g.Upload(context.Background(), content.KindVideo, "v1", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if u != srv.URL+"/video/v1" {
		t.Errorf("url = %q", u)
	}
}

func TestHTTPGatewayClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestEntityTooLarge, false},
		{http.StatusUnsupportedMediaType, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		g, err := NewHTTPGateway(srv.URL, srv.Client(), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = g.Upload(context.Background(), content.KindImage, "p", []byte("x"))
		srv.Close()

		var ue *Error
		if !errors.As(err, &ue) {
			t.Fatalf("status %d: err = %v, want *Error", tt.status, err)
		}
		if ue.Status != tt.status || ue.Temporary != tt.temporary {
			t.Errorf("status %d: got %+v, want temporary=%v", tt.status, ue, tt.temporary)
		}
		if IsTemporary(err) != tt.temporary {
			t.Errorf("status %d: IsTemporary = %v", tt.status, IsTemporary(err))
		}
	}
}

func TestIsTemporary(t *testing.T) {
	if IsTemporary(nil) {
		t.Error("nil is not temporary")
	}
	if IsTemporary(context.Canceled) {
		t.Error("cancellation is not temporary")
	}
	if !IsTemporary(errors.New("connection reset")) {
		t.Error("unclassified errors should be temporary")
	}
}

type fakeS3 struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3GatewayUpload(t *testing.T) {
	api := &fakeS3{}
	g := newS3Gateway(S3Config{Bucket: "media", PublicBase: "https://cdn.example/"}, api, nil)

	u, err := g.Upload(context.Background(), content.KindImage, "p1", []byte("cipher"))
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://cdn.example/image/p1" {
		t.Errorf("url = %q", u)
	}
	if *api.in.Bucket != "media" || *api.in.Key != "image/p1" || *api.in.ContentLength != 6 {
		t.Errorf("PutObject input = bucket %q key %q len %d", *api.in.Bucket, *api.in.Key, *api.in.ContentLength)
	}

	api.err = errors.New("dial tcp: connection refused")
	_, err = g.Upload(context.Background(), content.KindImage, "p1", []byte("cipher"))
	if !IsTemporary(err) {
		t.Errorf("network failure should be temporary, got %v", err)
	}
}

func TestNewS3GatewayValidates(t *testing.T) {
	if _, err := NewS3Gateway(context.Background(), S3Config{Bucket: "b"}, nil); err == nil {
		t.Error("missing region accepted")
	}
	if _, err := NewS3Gateway(context.Background(), S3Config{Region: "us-east-1", Bucket: "b"}, nil); err == nil {
		t.Error("missing public base accepted")
	}
}

func TestHTTPGatewayRefreshesAndReplaysOnce(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sessions := &fakeSessions{token: "expired", renewed: "fresh"}
	g, err := NewHTTPGateway(srv.URL, srv.Client(), sessions, nil)
	if err != nil {
		t.Fatal(err)
	}
	u, err := g.Upload(context.Background(), content.KindImage, "p1", []byte("cipher"))
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}
	if u != srv.URL+"/image/p1" {
		t.Errorf("url = %q", u)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(auths) != 2 || auths[0] != "Bearer expired" || auths[1] != "Bearer fresh" {
		t.Errorf("authorization sequence = %v", auths)
	}
	if bodies[0] != "cipher" || bodies[1] != "cipher" {
		t.Errorf("replayed bodies = %v", bodies)
	}
	if sessions.refreshes != 1 || sessions.logouts != 0 {
		t.Errorf("refreshes = %d logouts = %d", sessions.refreshes, sessions.logouts)
	}
}

func TestHTTPGatewaySecond401LogsOut(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sessions := &fakeSessions{token: "expired", renewed: "fresh"}
	g, err := NewHTTPGateway(srv.URL, srv.Client(), sessions, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Upload(context.Background(), content.KindImage, "p1", []byte("x"))
	var ue *Error
	if !errors.As(err, &ue) || ue.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 *Error", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if sessions.logouts != 1 {
		t.Errorf("logouts = %d, want 1", sessions.logouts)
	}
}

func TestHTTPGatewayRejectedRefresh(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sessions := &fakeSessions{token: "expired"}
	g, err := NewHTTPGateway(srv.URL, srv.Client(), sessions, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Upload(context.Background(), content.KindImage, "p1", []byte("x"))
	if !errors.Is(err, auth.ErrRefreshRejected) {
		t.Fatalf("err = %v, want ErrRefreshRejected", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no replay without a new token)", calls)
	}
}
