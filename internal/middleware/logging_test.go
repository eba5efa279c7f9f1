package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger_EmitsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "relayed")
	})

	req := httptest.NewRequest(http.MethodGet, "/https://example.com/a", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["method"] != "GET" {
		t.Errorf("log method = %v, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/https://example.com/a" {
		t.Errorf("log path = %v, want %q", entry["path"], "/https://example.com/a")
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("log status = %v, want %d", entry["status"], http.StatusOK)
	}
	if entry["bytes_out"] != float64(len("relayed")) {
		t.Errorf("log bytes_out = %v, want %d", entry["bytes_out"], len("relayed"))
	}
}

func TestRequestLogger_DoesNotLogQueryString(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// The url parameter carries the full target, credentials included.
	req := httptest.NewRequest(http.MethodGet, "/proxy?url=https%3A%2F%2Ftoken%40secret.example%2Fp", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if strings.Contains(buf.String(), "secret.example") {
		t.Errorf("log entry leaked the target URL: %s", buf.String())
	}
	if strings.Contains(buf.String(), "token") {
		t.Errorf("log entry leaked target credentials: %s", buf.String())
	}
}
