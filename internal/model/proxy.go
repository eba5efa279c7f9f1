// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be relayed to a resolved target.
type ProxyRequest struct {
	Ctx       context.Context
	Method    string
	TargetURL string
	Header    http.Header
	Body      io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
