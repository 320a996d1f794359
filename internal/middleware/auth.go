package middleware

import (
	"github.com/labstack/echo/v4"
)

// PassthroughHeaders carry caller identity. The gateway makes no
// authentication decision and forwards them to the upstream unmodified.
var PassthroughHeaders = []string{
	echo.HeaderAuthorization,
	echo.HeaderCookie,
	"X-Forwarded-User",
	"X-Api-Key",
}

const authPresentKey = "gateway.auth_present"

// AuthPassthrough records whether the request carries credentials, for
// request logging. It never rejects a request or edits its headers.
func AuthPassthrough() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			present := false
			for _, h := range PassthroughHeaders {
				if c.Request().Header.Get(h) != "" {
					present = true
					break
				}
			}
			c.Set(authPresentKey, present)
			return next(c)
		}
	}
}
