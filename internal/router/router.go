package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/restaurant-waitlist/internal/handler"
	"github.com/iliyamo/restaurant-waitlist/internal/middleware"
	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// RegisterRoutes registers the unauthenticated checks: /healthz for
// liveness and /readyz, which also pings the store.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterAuth registers all authentication-related routes.  Session
// operations live under /v1/auth; /v1/me requires an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token and keeps the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts either a refresh token in the body or a bearer token,
	// so it runs without JWTAuth.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleOwner, model.RoleAdmin, model.RoleCustomer))
	auth.GET("/me", a.Me)

	e.POST("/v1/logout", a.Logout)
}

// PublicDeps groups the handlers and middleware behind the guest API.
// Cache wraps read-only directory listings; Limit guards the endpoints
// that mutate a queue.  Either may be nil.
type PublicDeps struct {
	Restaurants *handler.RestaurantHandler
	Waitlist    *handler.WaitlistHandler
	Stream      *handler.StreamHandler
	Cache       echo.MiddlewareFunc
	Limit       echo.MiddlewareFunc
}

// RegisterPublic registers the endpoints a guest uses to browse
// restaurants, watch a queue, join it and leave it again.  None of them
// require a token.
func RegisterPublic(e *echo.Echo, d PublicDeps) {
	var cached, limited []echo.MiddlewareFunc
	if d.Cache != nil {
		cached = append(cached, d.Cache)
	}
	if d.Limit != nil {
		limited = append(limited, d.Limit)
	}

	e.GET("/v1/restaurants", d.Restaurants.List, cached...)
	e.GET("/v1/restaurants/:id", d.Restaurants.Get)
	// The ranked waiting list changes on every mutation and is never cached.
	e.GET("/v1/restaurants/:id/waitlist", d.Waitlist.Snapshot)
	e.POST("/v1/restaurants/:id/waitlist", d.Waitlist.Join, limited...)
	e.POST("/v1/restaurants/:id/waitlist/cancel", d.Waitlist.Cancel, limited...)
	if d.Stream != nil {
		e.GET("/v1/restaurants/:id/stream", d.Stream.Stream)
	}
}
