package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareThrottlesAfterBurst(t *testing.T) {
	l := New(1, 2)
	defer l.Close()
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		if rec := serve(handler, "10.0.0.1:4000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := serve(handler, "10.0.0.1:4000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d after burst, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestMiddlewareBucketsPerClient(t *testing.T) {
	l := New(1, 1)
	defer l.Close()
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rec := serve(handler, "10.0.0.1:4000"); rec.Code != http.StatusOK {
		t.Fatalf("first client status = %d, want 200", rec.Code)
	}
	if rec := serve(handler, "10.0.0.1:4000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second request status = %d, want 429", rec.Code)
	}
	// A different IP gets its own bucket.
	if rec := serve(handler, "10.0.0.2:4000"); rec.Code != http.StatusOK {
		t.Fatalf("second client status = %d, want 200", rec.Code)
	}
}

func TestCloseStopsCleanup(t *testing.T) {
	l := New(1, 1)
	l.Close()
	select {
	case <-l.done:
	default:
		t.Fatal("done channel still open after Close")
	}
}
