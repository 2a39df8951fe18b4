package router // router defines how HTTP routes are registered for the API

import (
	"github.com/iliyamo/restaurant-waitlist/internal/handler"    // restaurant and waitlist handlers
	"github.com/iliyamo/restaurant-waitlist/internal/middleware" // JWT + role middlewares
	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/labstack/echo/v4"
)

// RegisterOwner registers staff endpoints under /v1/owner.  All routes
// require a valid JWT and the OWNER or ADMIN role; ownership of the
// restaurant itself is checked per request.
func RegisterOwner(e *echo.Echo, r *handler.RestaurantHandler, w *handler.WaitlistHandler, jwtSecret string) {
	g := e.Group(
		"/v1/owner",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOwner, model.RoleAdmin),
	)

	// ---- Restaurants ----
	g.POST("/restaurants", r.Create)
	g.GET("/restaurants", r.Mine)
	g.GET("/restaurants/:id/waitlist", r.Entries) // every entry, any status
	g.POST("/restaurants/:id/wait-time", w.AdjustWaitTime)

	// ---- Entries ----
	g.POST("/waitlist/:id/status", w.UpdateStatus)
	g.DELETE("/waitlist/:id", w.Remove)
}
