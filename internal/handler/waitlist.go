package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
)

// Waitlist is the part of the coordinator the HTTP layer drives.
type Waitlist interface {
	Join(ctx context.Context, req service.JoinRequest) (*service.Result, error)
	CancelByPhone(ctx context.Context, restaurantID, phone string) (*service.Result, error)
	AdjustWaitTime(ctx context.Context, actor service.Actor, restaurantID string, delta int) (model.Snapshot, error)
	UpdateStatus(ctx context.Context, actor service.Actor, entryID, status string) (*service.Result, error)
	Remove(ctx context.Context, actor service.Actor, entryID string) (*service.Result, error)
	Snapshot(ctx context.Context, restaurantID string) (model.Snapshot, error)
	// WithSnapshot runs fn with the current snapshot while no mutation of
	// the restaurant can publish.
	WithSnapshot(ctx context.Context, restaurantID string, fn func(model.Snapshot) error) error
}

// WaitlistHandler exposes queue operations.  The coordinator bounds its
// own lock and transaction time, so no extra deadline is added here.
type WaitlistHandler struct {
	Queue Waitlist
}

func NewWaitlistHandler(q Waitlist) *WaitlistHandler { return &WaitlistHandler{Queue: q} }

type joinReq struct {
	CustomerName string `json:"customer_name"`
	PartySize    int    `json:"party_size"`
	PhoneNumber  string `json:"phone_number"`
	Notes        string `json:"notes"`
	ConsentGiven bool   `json:"consent_given"`
}

type cancelReq struct {
	PhoneNumber string `json:"phone_number"`
}

type adjustReq struct {
	Delta *int `json:"delta"`
}

type statusReq struct {
	Status string `json:"status"`
}

// Snapshot: GET /v1/restaurants/:id/waitlist
func (h *WaitlistHandler) Snapshot(c echo.Context) error {
	snap, err := h.Queue.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Join: POST /v1/restaurants/:id/waitlist
func (h *WaitlistHandler) Join(c echo.Context) error {
	var req joinReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Queue.Join(c.Request().Context(), service.JoinRequest{
		RestaurantID: c.Param("id"),
		CustomerName: req.CustomerName,
		PartySize:    req.PartySize,
		PhoneNumber:  req.PhoneNumber,
		Notes:        req.Notes,
		ConsentGiven: req.ConsentGiven,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Cancel: POST /v1/restaurants/:id/waitlist/cancel
func (h *WaitlistHandler) Cancel(c echo.Context) error {
	var req cancelReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Queue.CancelByPhone(c.Request().Context(), c.Param("id"), req.PhoneNumber)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AdjustWaitTime: POST /v1/owner/restaurants/:id/wait-time
func (h *WaitlistHandler) AdjustWaitTime(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req adjustReq
	if err := c.Bind(&req); err != nil || req.Delta == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "delta is required"})
	}
	snap, err := h.Queue.AdjustWaitTime(c.Request().Context(), actor, c.Param("id"), *req.Delta)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// UpdateStatus: POST /v1/owner/waitlist/:id/status
func (h *WaitlistHandler) UpdateStatus(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req statusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Queue.UpdateStatus(c.Request().Context(), actor, c.Param("id"), req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Remove: DELETE /v1/owner/waitlist/:id
func (h *WaitlistHandler) Remove(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Queue.Remove(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
