package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/gwerror"
)

// NewHTTPErrorHandler returns echo's central error handler. Every error,
// including echo's own (unknown route, body limit, panics caught by Recover),
// is rendered as the gateway error envelope.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ge := toGatewayError(err, c.Request().URL.Path)
		if ge.Kind == gwerror.KindInternal {
			logger.Error("unhandled error", "err", err, "path", c.Request().URL.Path)
		}

		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		if c.Request().Method == http.MethodHead {
			c.Response().WriteHeader(ge.StatusCode())
			return
		}
		ge.WriteJSON(c.Response(), requestID)
	}
}

func toGatewayError(err error, path string) *gwerror.Error {
	var ge *gwerror.Error
	if errors.As(err, &ge) {
		return ge
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound:
			return gwerror.RouteNotFound(path)
		case http.StatusRequestEntityTooLarge:
			return &gwerror.Error{Kind: gwerror.KindPayloadTooLarge, Detail: "limit exceeded"}
		case http.StatusTooManyRequests:
			return gwerror.RateLimited()
		}
		if he.Code >= http.StatusInternalServerError {
			return gwerror.Internal(err)
		}
		return gwerror.HTTP(he.Code, fmt.Sprint(he.Message))
	}

	return gwerror.Internal(err)
}
