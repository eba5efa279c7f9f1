package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

const (
	timeoutBody   = "代理请求超时"
	failurePrefix = "代理请求失败: "
)

// ProxyHandler relays requests to their resolved targets and answers
// pre-flight requests. Requests with no resolvable target are handed to the
// fallback handler.
type ProxyHandler struct {
	forwarder *service.Forwarder
	fallback  *FallbackHandler
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(f *service.Forwarder, fb *FallbackHandler, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: f,
		fallback:  fb,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle serves a single inbound request.
//
// OPTIONS requests are answered immediately with 204 and the CORS header set,
// before any target resolution. Otherwise the target is resolved from the
// `url` query parameter or the path; if neither names a target, the request
// defers to the fallback handler. A resolvable target is relayed and the
// upstream body streamed back unbuffered.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		service.SetCORSHeaders(c.Response().Header())
		return c.NoContent(http.StatusNoContent)
	}

	target, ok, err := service.ResolveTarget(req.URL)
	if err != nil {
		return h.mapError(c, err)
	}
	if !ok {
		return h.fallback.Handle(c)
	}

	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		Method:    req.Method,
		TargetURL: target,
		Header:    req.Header,
		Body:      req.Body,
	}

	resp, err := h.forwarder.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The forwarder already overwrote the CORS and cache-control keys.
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. This is an inherent trade-off of
	// streaming proxies — we log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"target", sanitizeTarget(target),
		)
	}

	return nil
}

// mapError converts a resolution or relay failure into the terminal error
// response. Every error response carries the CORS header set so browser
// callers can read the failure.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	service.SetCORSHeaders(c.Response().Header())

	if errors.Is(err, service.ErrRelayTimeout) {
		h.logger.Warn("relay timed out", "path", c.Request().URL.Path)
		return c.String(http.StatusGatewayTimeout, timeoutBody)
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.String(http.StatusInternalServerError, failurePrefix+err.Error())
}

// sanitizeTarget reduces a target URL to its host for logging. Target query
// strings routinely carry tokens and signed parameters.
func sanitizeTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "invalid"
	}
	return u.Host
}
