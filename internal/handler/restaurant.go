package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/repository"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
)

// RestaurantHandler serves the restaurant directory.
type RestaurantHandler struct {
	Restaurants repository.Restaurants
}

func NewRestaurantHandler(r repository.Restaurants) *RestaurantHandler {
	return &RestaurantHandler{Restaurants: r}
}

type createRestaurantReq struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	OwnerID uint64 `json:"owner_id"` // honoured for ADMIN only
}

// List: GET /v1/restaurants
func (h *RestaurantHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	items, err := h.Restaurants.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list restaurants failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Get: GET /v1/restaurants/:id
func (h *RestaurantHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	r, err := h.Restaurants.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrRestaurantNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "restaurant not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load restaurant failed"})
	}
	return c.JSON(http.StatusOK, r)
}

// Create: POST /v1/owner/restaurants.  An OWNER always owns what it
// creates; an ADMIN may assign another owner.
func (h *RestaurantHandler) Create(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createRestaurantReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	owner := actor.UserID
	if actor.Role == model.RoleAdmin && req.OwnerID != 0 {
		owner = req.OwnerID
	}

	r := model.Restaurant{
		OwnerID: owner,
		Name:    req.Name,
		Address: strings.TrimSpace(req.Address),
		Phone:   strings.TrimSpace(req.Phone),
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Restaurants.Create(ctx, &r); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "restaurant already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create restaurant failed"})
	}
	return c.JSON(http.StatusCreated, r)
}

// Mine: GET /v1/owner/restaurants lists the restaurants the caller
// manages.  ADMIN sees all of them.
func (h *RestaurantHandler) Mine(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	all, err := h.Restaurants.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list restaurants failed"})
	}
	items := make([]model.Restaurant, 0, len(all))
	for _, r := range all {
		if service.Authorize(actor, r) == nil {
			items = append(items, r)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Entries: GET /v1/owner/restaurants/:id/waitlist returns every entry of
// the restaurant whatever its status, oldest first.
func (h *RestaurantHandler) Entries(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	r, err := h.Restaurants.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrRestaurantNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "restaurant not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load restaurant failed"})
	}
	if err := service.Authorize(actor, r); err != nil {
		return writeError(c, err)
	}
	entries, err := h.Restaurants.Entries(ctx, r.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list entries failed"})
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"restaurant": r, "items": entries, "count": len(entries)})
}
