package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthPassthrough_DoesNotRejectOrModify(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		value       string
		wantPresent bool
	}{
		{"no credentials", "", "", false},
		{"bearer token", echo.HeaderAuthorization, "Bearer abc", true},
		{"cookie", echo.HeaderCookie, "session=1", true},
		{"api key", "X-Api-Key", "k", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var present any
			var forwarded string
			e := echo.New()
			e.GET("/", func(c echo.Context) error {
				present = c.Get(authPresentKey)
				if tt.header != "" {
					forwarded = c.Request().Header.Get(tt.header)
				}
				return c.NoContent(http.StatusOK)
			}, AuthPassthrough())

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if present != tt.wantPresent {
				t.Errorf("auth present = %v, want %v", present, tt.wantPresent)
			}
			if forwarded != tt.value {
				t.Errorf("%s = %q, want %q", tt.header, forwarded, tt.value)
			}
		})
	}
}
