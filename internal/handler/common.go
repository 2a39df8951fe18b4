package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/restaurant-waitlist/internal/middleware"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
)

// getUserID extracts the user_id set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.CtxUserID).(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// actorFrom builds the coordinator actor from the verified token claims.
func actorFrom(c echo.Context) (service.Actor, error) {
	uid, err := getUserID(c)
	if err != nil {
		return service.Actor{}, err
	}
	role, _ := c.Get(middleware.CtxRole).(string)
	return service.Actor{UserID: uid, Role: role}, nil
}

// retryAfterSeconds is sent with 503 answers to concurrency timeouts.
const retryAfterSeconds = "1"

// writeError answers err with the status of its place in the service error
// taxonomy.  Unknown errors are logged and reported as 500.
func writeError(c echo.Context, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrConcurrencyTimeout):
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "waitlist busy, retry shortly"})
	}
	c.Logger().Errorf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
