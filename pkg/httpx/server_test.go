package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusCreated, map[string]int{"trials": 3}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]int
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil || got["trials"] != 3 {
		t.Errorf("body = %v, %v", got, err)
	}
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusBadRequest, "project parameter required")

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusBadRequest || resp.Error != "project parameter required" {
		t.Errorf("got %d %q", w.Code, resp.Error)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		check      func(context.Context) error
		wantStatus int
	}{
		{name: "no check", check: nil, wantStatus: http.StatusOK},
		{name: "healthy", check: func(context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "unhealthy", check: func(context.Context) error { return errors.New("redis down") }, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler(tt.check)(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/trials", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var captured int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := LoggingMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		captured = w.(*responseWriter).statusCode
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if captured != http.StatusTeapot || w.Code != http.StatusTeapot {
		t.Errorf("captured = %d, recorded = %d", captured, w.Code)
	}
}

func TestServer_ServeStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler(nil))
	srv := NewServer(ln.Addr().String(), mux, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() after Stop = %v, want nil", err)
	}
}
