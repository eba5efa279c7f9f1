// Package service implements the core forwarding logic: target resolution,
// header projection, and the relay to the resolved target.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

// ErrRelayTimeout is returned when the outbound call exceeds the relay deadline.
var ErrRelayTimeout = errors.New("relay deadline exceeded")

// deniedRequestHeaders are stripped from the inbound header set before the
// relay. Comparison is case-insensitive, exact match only.
var deniedRequestHeaders = []string{
	"Host",
	"Origin",
	"Referer",
	"Cookie",
}

// corsHeaders is the fixed header set attached to every response the proxy
// produces, including pre-flight and error responses.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":   "*",
	"Access-Control-Allow-Methods":  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "*",
	"Access-Control-Max-Age":        "86400",
	"Access-Control-Expose-Headers": "*",
}

// noCacheHeaders override any upstream caching intent on relayed responses.
var noCacheHeaders = map[string]string{
	"Cache-Control": "no-store, no-cache, must-revalidate",
	"Pragma":        "no-cache",
	"Expires":       "0",
}

// ResolveTarget determines whether the inbound URL names a proxy target and,
// if so, the absolute URL to forward to. ok is false when the request is not
// a proxy request; a non-nil error means the request named a target that
// could not be decoded.
//
// Resolution order:
//  1. a non-empty `url` query parameter;
//  2. the request path, when it starts with "http" after stripping the
//     leading slash: the escaped path is percent-decoded once and the
//     original raw query string is re-appended.
//
// The prefix check for path-embedded targets runs against the escaped path,
// so `/https%3A%2F%2F...` and `/https://...` both resolve while
// `/%68ttp...` does not.
func ResolveTarget(u *url.URL) (target string, ok bool, err error) {
	if raw := u.Query().Get("url"); raw != "" {
		target, err = finalizeTarget(raw)
		return target, true, err
	}

	rest := strings.TrimPrefix(u.EscapedPath(), "/")
	if strings.HasPrefix(rest, "http") {
		decoded, err := url.PathUnescape(rest)
		if err != nil {
			return "", true, fmt.Errorf("decode path target: %w", err)
		}
		if u.RawQuery != "" {
			decoded += "?" + u.RawQuery
		}
		target, err = finalizeTarget(decoded)
		return target, true, err
	}

	return "", false, nil
}

// finalizeTarget applies the second decode pass to candidates that still do
// not start with "http" after the first decode. Path-embedded candidates are
// already decoded and never hit that branch; query-parameter candidates that
// were double-encoded by the caller do. The asymmetry is deliberate and kept
// for compatibility with existing callers.
func finalizeTarget(candidate string) (string, error) {
	if strings.HasPrefix(candidate, "http") {
		return candidate, nil
	}
	decoded, err := url.PathUnescape(candidate)
	if err != nil {
		return "", fmt.Errorf("decode target: %w", err)
	}
	return decoded, nil
}

// ProxyHeaders returns a copy of src with the denied request headers removed.
// Every other header is carried over with its values unchanged.
func ProxyHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if deniedHeader(key) {
			continue
		}
		dst[key] = vals
	}
	return dst
}

func deniedHeader(key string) bool {
	for _, denied := range deniedRequestHeaders {
		if strings.EqualFold(key, denied) {
			return true
		}
	}
	return false
}

// SetCORSHeaders writes the fixed CORS header set onto h, overwriting any
// existing values for those keys.
func SetCORSHeaders(h http.Header) {
	for key, val := range corsHeaders {
		h.Set(key, val)
	}
}

// SetNoCacheHeaders forces the response to be treated as non-cacheable,
// overwriting any upstream-supplied values for those keys.
func SetNoCacheHeaders(h http.Header) {
	for key, val := range noCacheHeaders {
		h.Set(key, val)
	}
}

// Forwarder relays proxy requests to their resolved targets.
type Forwarder struct {
	client  *client.ForwardClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder using the configured relay deadline.
func NewForwarder(c *client.ForwardClient, cfg *config.Config, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:  c,
		timeout: cfg.Upstream.Timeout(),
		logger:  logger.With("component", "forwarder"),
	}
}

// Forward sends a ProxyRequest to its target and returns the response.
// The caller is responsible for closing the response body.
//
// The deadline bounds the outbound call up to and including receipt of the
// response headers; once they arrive the timer is disarmed and the body may
// stream for as long as it needs. On expiry the in-flight attempt is canceled
// and ErrRelayTimeout is returned. There is no retry.
func (f *Forwarder) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	header := ProxyHeaders(pr.Header)

	var body io.Reader
	if pr.Method != http.MethodGet && pr.Method != http.MethodHead {
		body = pr.Body
	}

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", targetHost(pr.TargetURL),
	)

	ctx, cancel := context.WithCancelCause(pr.Ctx)
	timer := time.AfterFunc(f.timeout, func() { cancel(ErrRelayTimeout) })

	resp, err := f.client.DoStream(ctx, pr.Method, pr.TargetURL, header, body)
	if err != nil {
		timer.Stop()
		cause := context.Cause(ctx)
		cancel(nil)
		if errors.Is(cause, ErrRelayTimeout) {
			return nil, ErrRelayTimeout
		}
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	timer.Stop()
	// The context must stay alive while the body streams back; it is
	// released when the caller closes the body.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	resp.Header = responseHeaders(resp.Header)
	return resp, nil
}

// responseHeaders builds the response header set: the upstream headers with
// the CORS set and the cache-disabling set overwritten on top.
func responseHeaders(upstream http.Header) http.Header {
	dst := make(http.Header, len(upstream)+len(corsHeaders)+len(noCacheHeaders))
	for key, vals := range upstream {
		dst[key] = vals
	}
	SetCORSHeaders(dst)
	SetNoCacheHeaders(dst)
	return dst
}

// targetHost extracts the host portion of a target URL for logging. The full
// URL is never logged: target query strings routinely carry credentials.
func targetHost(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "invalid"
	}
	return u.Host
}

// cancelOnClose releases the relay context when the response body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
