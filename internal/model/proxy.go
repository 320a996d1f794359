// Package model defines the request and response types passed between the
// proxy handler, the forwarding engine and the upstream client.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request after route resolution, ready to be
// forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped path to send upstream: the suffix left after
	// prefix stripping, or the full inbound path when the route keeps it.
	Path     string
	RawQuery string
	// Host and Scheme describe the inbound request and become
	// X-Forwarded-Host and X-Forwarded-Proto.
	Host          string
	Scheme        string
	RequestID     string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
