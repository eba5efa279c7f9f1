package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
//
// Every path goes through the proxy handler first: a request carrying a
// resolvable target is a proxy request no matter what path it arrived on, so
// reserved routes (/healthz, the metrics path, static files) are dispatched
// by the fallback handler only after resolution declines the request.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
