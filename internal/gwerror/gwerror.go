// Package gwerror defines the gateway's error taxonomy and its JSON rendering.
package gwerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure. Clients branch on the rendered kind and
// status code, never on the message text.
type Kind int

const (
	KindInternal Kind = iota
	KindRouteNotFound
	KindUpstreamUnavailable
	KindUpstreamError
	KindTimeout
	KindRateLimited
	KindConfig
	KindWebSocket
	KindPayloadTooLarge
	// KindHTTP covers protocol-level rejections raised by the HTTP server
	// itself, such as an unsupported method.
	KindHTTP
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindRouteNotFound:       "route_not_found",
	KindUpstreamUnavailable: "upstream_unavailable",
	KindUpstreamError:       "upstream_error",
	KindTimeout:             "timeout",
	KindRateLimited:         "rate_limited",
	KindConfig:              "config_error",
	KindWebSocket:           "websocket_error",
	KindPayloadTooLarge:     "payload_too_large",
	KindHTTP:                "http_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal"
}

// Error is a classified gateway failure.
type Error struct {
	Kind   Kind
	Detail string
	// Status is set for KindUpstreamError and KindHTTP; Body only for
	// KindUpstreamError.
	Status int
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status the error maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindRouteNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamError:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindWebSocket:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindHTTP:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message.
func (e *Error) Message() string {
	switch e.Kind {
	case KindRouteNotFound:
		return "No route matched for path: " + e.Detail
	case KindUpstreamUnavailable:
		return "Upstream service unavailable: " + e.Detail
	case KindUpstreamError:
		return "Upstream error: " + string(e.Body)
	case KindTimeout:
		return "Request to upstream timed out"
	case KindRateLimited:
		return "Rate limit exceeded, try again later"
	case KindConfig:
		return "Configuration error: " + e.Detail
	case KindWebSocket:
		return "WebSocket error: " + e.Detail
	case KindPayloadTooLarge:
		return "Request body too large: " + e.Detail
	case KindHTTP:
		if e.Detail != "" {
			return e.Detail
		}
		return http.StatusText(e.StatusCode())
	default:
		if e.Detail != "" {
			return "Internal error: " + e.Detail
		}
		return "Internal error"
	}
}

func RouteNotFound(path string) *Error {
	return &Error{Kind: KindRouteNotFound, Detail: path}
}

func UpstreamUnavailable(detail string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Detail: detail, Err: err}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

func RateLimited() *Error {
	return &Error{Kind: KindRateLimited}
}

func Config(detail string, err error) *Error {
	return &Error{Kind: KindConfig, Detail: detail, Err: err}
}

func WebSocket(detail string, err error) *Error {
	return &Error{Kind: KindWebSocket, Detail: detail, Err: err}
}

func PayloadTooLarge(limit int64) *Error {
	return &Error{Kind: KindPayloadTooLarge, Detail: fmt.Sprintf("limit is %d bytes", limit)}
}

// HTTP wraps a rejection produced by the HTTP server rather than the proxy.
func HTTP(status int, detail string) *Error {
	return &Error{Kind: KindHTTP, Status: status, Detail: detail}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// From returns err as a gateway error, wrapping unclassified errors as Internal.
func From(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return Internal(err)
}

// Envelope is the JSON body of every gateway-generated error response.
type Envelope struct {
	Error Body `json:"error"`
}

// Body carries the stable code/status/message triple.
type Body struct {
	Code      int    `json:"code"`
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Envelope renders e with an optional request id.
func (e *Error) Envelope(requestID string) Envelope {
	code := e.StatusCode()
	status := http.StatusText(code)
	if status == "" {
		status = "Unknown"
	}
	return Envelope{Error: Body{
		Code:      code,
		Status:    status,
		Kind:      e.Kind.String(),
		Message:   e.Message(),
		RequestID: requestID,
	}}
}

// WriteJSON writes the error envelope to w.
func (e *Error) WriteJSON(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	_ = json.NewEncoder(w).Encode(e.Envelope(requestID))
}
