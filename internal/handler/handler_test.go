package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/restaurant-waitlist/internal/config"
	"github.com/iliyamo/restaurant-waitlist/internal/handler"
	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/realtime"
	"github.com/iliyamo/restaurant-waitlist/internal/repository"
	"github.com/iliyamo/restaurant-waitlist/internal/router"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
	"github.com/iliyamo/restaurant-waitlist/internal/utils"
)

const secret = "test-secret"

type env struct {
	e     *echo.Echo
	store *repository.MemoryStore
	hub   *realtime.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	m := repository.NewMemoryStore()
	rest := model.Restaurant{ID: "r1", OwnerID: 7, Name: "Noodle Bar"}
	require.NoError(t, m.Create(context.Background(), &rest))

	hub := realtime.NewHub(realtime.NewRegistry(), time.Second)
	coord := service.NewCoordinator(m, hub, nil, service.Options{})
	cfg := config.Config{JWTSecret: secret, AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}

	e := echo.New()
	rh := handler.NewRestaurantHandler(m)
	wh := handler.NewWaitlistHandler(coord)
	router.RegisterRoutes(e, handler.Ready(nil))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repository.MemoryUsers{MemoryStore: m}, repository.MemoryTokens{MemoryStore: m}), secret)
	router.RegisterPublic(e, router.PublicDeps{
		Restaurants: rh,
		Waitlist:    wh,
		Stream:      handler.NewStreamHandler(hub, coord),
	})
	router.RegisterOwner(e, rh, wh, secret)
	return &env{e: e, store: m, hub: hub}
}

func token(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, uid, role, 15)
	require.NoError(t, err)
	return tok.Token
}

func (v *env) do(method, path string, body any, bearer string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func (v *env) join(t *testing.T, name string, size int, phone string) service.Result {
	t.Helper()
	rec := v.do(http.MethodPost, "/v1/restaurants/r1/waitlist", echo.Map{
		"customer_name": name, "party_size": size, "phone_number": phone, "consent_given": true,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res service.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func waits(snap model.Snapshot) []int {
	out := make([]int, len(snap.Waitlist))
	for i, e := range snap.Waitlist {
		out[i] = e.Wait()
	}
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = v.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
}

func TestJoinAndPublicSnapshot(t *testing.T) {
	v := newEnv(t)
	a := v.join(t, "Ana", 2, "555-A")
	b := v.join(t, "Ben", 4, "555-B")
	c := v.join(t, "Cy", 1, "555-C")
	assert.Equal(t, []int{1, 2, 3}, []int{a.Entry.Position, b.Entry.Position, c.Entry.Position})
	assert.Equal(t, 65, c.Entry.Wait())
	assert.Equal(t, 125, c.Snapshot.Restaurant.CurrentWaitTime)

	rec := v.do(http.MethodGet, "/v1/restaurants/r1/waitlist", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[model.Snapshot](t, rec)
	assert.Equal(t, []int{10, 50, 65}, waits(snap))
	assert.Equal(t, 125, snap.Restaurant.CurrentWaitTime)

	rec = v.do(http.MethodGet, "/v1/restaurants/nope/waitlist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoinValidation(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodPost, "/v1/restaurants/r1/waitlist", echo.Map{
		"customer_name": "Ana", "party_size": 0, "phone_number": "555",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, rec)
	assert.Contains(t, body.Fields, "party_size")
	assert.Contains(t, body.Fields, "consent_given")

	rec = v.do(http.MethodPost, "/v1/restaurants/missing/waitlist", echo.Map{
		"customer_name": "Ana", "party_size": 2, "phone_number": "555", "consent_given": true,
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelByPhone(t *testing.T) {
	v := newEnv(t)
	v.join(t, "Ana", 2, "555-A")
	v.join(t, "Ben", 4, "555-B")

	rec := v.do(http.MethodPost, "/v1/restaurants/r1/waitlist/cancel", echo.Map{"phone_number": "555-A"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.Result](t, rec)
	require.Len(t, res.Snapshot.Waitlist, 1)
	assert.Equal(t, 1, res.Snapshot.Waitlist[0].Position)
	assert.Equal(t, 20, res.Snapshot.Waitlist[0].Wait())

	rec = v.do(http.MethodPost, "/v1/restaurants/r1/waitlist/cancel", echo.Map{"phone_number": "555-A"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = v.do(http.MethodPost, "/v1/restaurants/r1/waitlist/cancel", echo.Map{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnerWaitlistActions(t *testing.T) {
	v := newEnv(t)
	first := v.join(t, "Ana", 2, "555-A")
	v.join(t, "Ben", 4, "555-B")
	v.join(t, "Cy", 1, "555-C")
	owner := token(t, 7, model.RoleOwner)

	rec := v.do(http.MethodPost, "/v1/owner/restaurants/r1/wait-time", echo.Map{"delta": 5}, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[model.Snapshot](t, rec)
	assert.Equal(t, []int{15, 55, 70}, waits(snap))
	assert.Equal(t, 130, snap.Restaurant.CurrentWaitTime)

	rec = v.do(http.MethodPost, "/v1/owner/restaurants/r1/wait-time", echo.Map{}, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/v1/owner/waitlist/%s/status", first.Entry.ID)
	rec = v.do(http.MethodPost, path, echo.Map{"status": "seated"}, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.Result](t, rec)
	assert.Equal(t, model.StatusSeated, res.Entry.Status)
	assert.Len(t, res.Snapshot.Waitlist, 2)

	rec = v.do(http.MethodPost, path, echo.Map{"status": "cancelled"}, owner)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = v.do(http.MethodPost, path, echo.Map{"status": "eaten"}, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodGet, "/v1/owner/restaurants/r1/waitlist", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[struct {
		Items []model.WaitlistEntry `json:"items"`
	}](t, rec)
	assert.Len(t, all.Items, 3, "includes finished entries")
}

func TestOwnerAccessControl(t *testing.T) {
	v := newEnv(t)
	entry := v.join(t, "Ana", 2, "555-A")
	path := "/v1/owner/waitlist/" + entry.Entry.ID

	rec := v.do(http.MethodDelete, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = v.do(http.MethodDelete, path, nil, token(t, 3, model.RoleCustomer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = v.do(http.MethodDelete, path, nil, token(t, 8, model.RoleOwner))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = v.do(http.MethodGet, "/v1/owner/restaurants/r1/waitlist", nil, token(t, 8, model.RoleOwner))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = v.do(http.MethodDelete, path, nil, token(t, 1, model.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.Result](t, rec)
	assert.Empty(t, res.Snapshot.Waitlist)
	assert.Equal(t, 0, res.Snapshot.Restaurant.CurrentWaitTime)

	rec = v.do(http.MethodDelete, path, nil, token(t, 7, model.RoleOwner))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOwnerCreatesRestaurant(t *testing.T) {
	v := newEnv(t)
	owner := token(t, 7, model.RoleOwner)

	rec := v.do(http.MethodPost, "/v1/owner/restaurants", echo.Map{"name": "  Taco Stand ", "owner_id": 99}, owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Restaurant](t, rec)
	assert.Equal(t, "Taco Stand", created.Name)
	assert.Equal(t, uint64(7), created.OwnerID, "owners cannot assign another owner")
	assert.NotEmpty(t, created.ID)

	rec = v.do(http.MethodPost, "/v1/owner/restaurants", echo.Map{"name": "Bistro", "owner_id": 12}, token(t, 1, model.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint64(12), decode[model.Restaurant](t, rec).OwnerID)

	rec = v.do(http.MethodPost, "/v1/owner/restaurants", echo.Map{"name": " "}, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodGet, "/v1/owner/restaurants", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Equal(t, 2, mine.Count)

	rec = v.do(http.MethodGet, "/v1/restaurants", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[struct {
		Count int `json:"count"`
	}](t, rec).Count)

	rec = v.do(http.MethodGet, "/v1/restaurants/"+created.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = v.do(http.MethodGet, "/v1/restaurants/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthSessionLifecycle(t *testing.T) {
	v := newEnv(t)
	creds := echo.Map{"email": "Owner@Example.com", "password": "s3cret", "role": "owner"}

	rec := v.do(http.MethodPost, "/v1/auth/register", creds, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = v.do(http.MethodPost, "/v1/auth/register", creds, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = v.do(http.MethodPost, "/v1/auth/login", echo.Map{"email": "owner@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = v.do(http.MethodPost, "/v1/auth/login", echo.Map{"email": "owner@example.com", "password": "s3cret"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	type session struct {
		User struct {
			ID   uint64 `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
		Access  struct{ Token string } `json:"access"`
		Refresh struct{ Token string } `json:"refresh"`
	}
	s := decode[session](t, rec)
	assert.Equal(t, model.RoleOwner, s.User.Role)

	rec = v.do(http.MethodGet, "/v1/me", nil, s.Access.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"user_id":%d`, s.User.ID))

	rec = v.do(http.MethodPost, "/v1/auth/refresh", echo.Map{"refresh_token": s.Refresh.Token}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[session](t, rec)
	rec = v.do(http.MethodPost, "/v1/auth/refresh", echo.Map{"refresh_token": s.Refresh.Token}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "old refresh token is revoked")

	rec = v.do(http.MethodPost, "/v1/auth/logout", nil, rotated.Access.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = v.do(http.MethodPost, "/v1/auth/refresh-access", echo.Map{"refresh_token": rotated.Refresh.Token}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type busyQueue struct{ handler.Waitlist }

func (busyQueue) Snapshot(context.Context, string) (model.Snapshot, error) {
	return model.Snapshot{}, fmt.Errorf("%w: lock: deadline exceeded", service.ErrConcurrencyTimeout)
}

func (busyQueue) Join(context.Context, service.JoinRequest) (*service.Result, error) {
	return nil, fmt.Errorf("%w: commit: broken pipe", service.ErrStoreFailure)
}

func TestErrorMapping(t *testing.T) {
	e := echo.New()
	h := handler.NewWaitlistHandler(busyQueue{})
	e.GET("/w/:id", h.Snapshot)
	e.POST("/w/:id", h.Join)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/w/r1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/w/r1", strings.NewReader(`{"customer_name":"A"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "broken pipe")
}

func receive(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, websocket.JSON.Receive(ws, &msg))
	return msg
}

func TestStreamPushesSnapshots(t *testing.T) {
	v := newEnv(t)
	srv := httptest.NewServer(v.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/restaurants/r1/stream"
	ws, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	defer ws.Close()

	msg := receive(t, ws)
	assert.Equal(t, "subscribed", msg["type"])
	msg = receive(t, ws)
	assert.Equal(t, realtime.EventWaitlistUpdated, msg["type"])
	assert.Empty(t, msg["waitlist"])
	assert.Equal(t, 1, v.hub.Registry().Count("r1"))

	v.join(t, "Ana", 3, "555-A")
	msg = receive(t, ws)
	assert.Equal(t, realtime.EventWaitlistUpdated, msg["type"])
	require.Len(t, msg["waitlist"], 1)
	assert.EqualValues(t, 45, msg["restaurant"].(map[string]any)["current_wait_time"])

	require.NoError(t, websocket.JSON.Send(ws, echo.Map{"action": "join", "restaurant_id": "ghost"}))
	msg = receive(t, ws)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, 1, v.hub.Registry().Count("r1"), "a failed switch keeps the current topic")

	require.NoError(t, websocket.JSON.Send(ws, echo.Map{"action": "leave"}))
	msg = receive(t, ws)
	assert.Equal(t, "unsubscribed", msg["type"])
	assert.Zero(t, v.hub.Registry().Count("r1"))

	rec := v.do(http.MethodGet, "/v1/restaurants/ghost/stream", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// lockedQueue serves a stale snapshot from Snapshot and the current one
// only through WithSnapshot, recording what the stream saw at that point.
type lockedQueue struct {
	handler.Waitlist
	hub   *realtime.Hub
	stale model.Snapshot
	fresh model.Snapshot

	membersAtRead chan int
}

func (q *lockedQueue) Snapshot(_ context.Context, id string) (model.Snapshot, error) {
	if id != q.stale.Restaurant.ID {
		return model.Snapshot{}, service.ErrNotFound
	}
	return q.stale, nil
}

func (q *lockedQueue) WithSnapshot(_ context.Context, id string, fn func(model.Snapshot) error) error {
	switch id {
	case q.fresh.Restaurant.ID:
		q.membersAtRead <- q.hub.Registry().Count(id)
		return fn(q.fresh)
	case "down":
		return fmt.Errorf("%w: read snapshot: connection refused", service.ErrStoreFailure)
	case "busy":
		return fmt.Errorf("%w: waiting for restaurant busy", service.ErrConcurrencyTimeout)
	}
	return fmt.Errorf("%w: restaurant %s", service.ErrNotFound, id)
}

func TestStreamInitialSnapshotIsTakenUnderLock(t *testing.T) {
	hub := realtime.NewHub(realtime.NewRegistry(), time.Second)
	t0 := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := model.Snapshot{
		Restaurant: model.Restaurant{ID: "r1", CurrentWaitTime: 40, UpdatedAt: t0.Add(time.Second)},
		Waitlist:   []model.WaitlistEntry{{ID: "e1", Position: 1, Status: model.StatusWaiting}},
	}
	q := &lockedQueue{
		hub:           hub,
		stale:         model.Snapshot{Restaurant: model.Restaurant{ID: "r1", UpdatedAt: t0}},
		fresh:         fresh,
		membersAtRead: make(chan int, 4),
	}
	e := echo.New()
	e.GET("/v1/restaurants/:id/stream", handler.NewStreamHandler(hub, q).Stream)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/restaurants/r1/stream", "", srv.URL)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "subscribed", receive(t, ws)["type"])
	msg := receive(t, ws)
	assert.Equal(t, realtime.EventWaitlistUpdated, msg["type"])
	assert.Len(t, msg["waitlist"], 1, "initial push comes from the locked read")
	assert.EqualValues(t, 40, msg["restaurant"].(map[string]any)["current_wait_time"])
	assert.Equal(t, 1, <-q.membersAtRead, "subscribed before the snapshot was read")

	for id, want := range map[string]string{
		"down":  "waitlist unavailable",
		"busy":  "waitlist busy, retry shortly",
		"ghost": "restaurant not found",
	} {
		require.NoError(t, websocket.JSON.Send(ws, echo.Map{"action": "join", "restaurant_id": id}))
		msg = receive(t, ws)
		assert.Equal(t, "error", msg["type"], id)
		assert.Equal(t, want, msg["error"], id)
		assert.Zero(t, hub.Registry().Count(id), id)
	}
	assert.Equal(t, 1, hub.Registry().Count("r1"))
}
