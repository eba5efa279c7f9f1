package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Static: config.StaticConfig{Dir: dir},
	}
	proxy := newTestProxyHandler(t, cfg)

	e := echo.New()
	RegisterRoutes(e, proxy)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"OPTIONS pre-flight on any path", http.MethodOptions, "/whatever", http.StatusNoContent},
		{"GET with url parameter", http.MethodGet, "/?url=" + url.QueryEscape(upstream.URL), http.StatusOK},
		{"POST with url parameter", http.MethodPost, "/send?url=" + url.QueryEscape(upstream.URL), http.StatusOK},
		{"GET path-embedded target", http.MethodGet, "/" + upstream.URL, http.StatusOK},
		{"GET /healthz via fallback", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status via fallback", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET / serves index", http.MethodGet, "/", http.StatusOK},
		{"GET unknown path is 404", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_URLParameterWinsOverReservedPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("proxied"))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Static: config.StaticConfig{Dir: t.TempDir()},
	}
	proxy := newTestProxyHandler(t, cfg)

	e := echo.New()
	RegisterRoutes(e, proxy)

	req := httptest.NewRequest(http.MethodGet, "/healthz?url="+url.QueryEscape(upstream.URL), http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "proxied" {
		t.Errorf("body = %q, want %q (resolution must win over reserved paths)", rec.Body.String(), "proxied")
	}
}
