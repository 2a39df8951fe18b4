package middleware

// identity.go defines helper functions shared across middleware files.  It
// reads the user set by JWTAuth; routes without JWTAuth are anonymous.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// userID returns the authenticated user's ID as a string, or "guest" when
// the request carries no verified identity.
func userID(c echo.Context) string {
	switch v := c.Get(CtxUserID).(type) {
	case uint64:
		if v != 0 {
			return strconv.FormatUint(v, 10)
		}
	case string:
		if v != "" {
			return v
		}
	}
	return "guest"
}
