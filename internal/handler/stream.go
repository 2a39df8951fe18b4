package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/realtime"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
)

// Stream reply types besides realtime.EventWaitlistUpdated.
const (
	streamSubscribed   = "subscribed"
	streamUnsubscribed = "unsubscribed"
	streamError        = "error"
)

// StreamHandler pushes waitlist snapshots to websocket viewers.  A
// connection watches at most one restaurant at a time.
type StreamHandler struct {
	Hub   *realtime.Hub
	Queue Waitlist
}

func NewStreamHandler(hub *realtime.Hub, q Waitlist) *StreamHandler {
	return &StreamHandler{Hub: hub, Queue: q}
}

type streamMsg struct {
	Action       string `json:"action"` // join | leave
	RestaurantID string `json:"restaurant_id"`
}

type streamReply struct {
	Type         string `json:"type"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Stream: GET /v1/restaurants/:id/stream.  The connection starts joined to
// :id and may switch with {"action":"join","restaurant_id":...} or stop
// with {"action":"leave"}.
func (h *StreamHandler) Stream(c echo.Context) error {
	initial := strings.TrimSpace(c.Param("id"))
	if _, err := h.Queue.Snapshot(c.Request().Context(), initial); err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	websocket.Server{Handler: func(ws *websocket.Conn) {
		h.serve(ctx, ws, initial)
	}}.ServeHTTP(c.Response(), c.Request())
	return nil
}

type streamSession struct {
	h       *StreamHandler
	sub     *realtime.WSSubscriber
	current string
}

func (h *StreamHandler) serve(ctx context.Context, ws *websocket.Conn, initial string) {
	s := &streamSession{h: h, sub: realtime.NewWSSubscriber(ws)}
	reg := h.Hub.Registry()
	defer func() {
		reg.Disconnect(s.sub.ID())
		_ = s.sub.Close()
	}()

	s.join(ctx, initial)
	for {
		var msg streamMsg
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.reply(ctx, streamReply{Type: streamError, Error: "invalid message"})
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("stream: subscriber %s: %v", s.sub.ID(), err)
			}
			return
		}
		switch strings.ToLower(strings.TrimSpace(msg.Action)) {
		case "join":
			s.join(ctx, strings.TrimSpace(msg.RestaurantID))
		case "leave":
			s.leave(ctx)
		default:
			s.reply(ctx, streamReply{Type: streamError, Error: "unknown action"})
		}
	}
}

// join subscribes first and then sends the snapshot while the restaurant
// is locked, so the initial push can never overtake a newer published one.
func (s *streamSession) join(ctx context.Context, id string) {
	if id == "" {
		s.reply(ctx, streamReply{Type: streamError, Error: "restaurant_id is required"})
		return
	}
	reg := s.h.Hub.Registry()
	reg.Join(id, s.sub)

	sent := false
	err := s.h.Queue.WithSnapshot(ctx, id, func(snap model.Snapshot) error {
		sent = true
		if s.current != "" && s.current != id {
			reg.Leave(s.current, s.sub.ID())
		}
		s.current = id
		s.reply(ctx, streamReply{Type: streamSubscribed, RestaurantID: id})

		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.h.Hub.SendTo(sctx, id, s.sub, realtime.NewEvent(snap))
	})
	switch {
	case err == nil:
	case sent:
		log.Printf("stream: initial snapshot for %s: %v", id, err)
	default:
		if id != s.current {
			reg.Leave(id, s.sub.ID())
		}
		s.reply(ctx, streamReply{Type: streamError, RestaurantID: id, Error: streamErrorText(err)})
	}
}

// streamErrorText tells the viewer why a join failed without exposing
// store details.
func streamErrorText(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "restaurant not found"
	case errors.Is(err, service.ErrConcurrencyTimeout):
		return "waitlist busy, retry shortly"
	}
	log.Printf("stream: join: %v", err)
	return "waitlist unavailable"
}

func (s *streamSession) leave(ctx context.Context) {
	if s.current != "" {
		s.h.Hub.Registry().Leave(s.current, s.sub.ID())
	}
	s.reply(ctx, streamReply{Type: streamUnsubscribed, RestaurantID: s.current})
	s.current = ""
}

func (s *streamSession) reply(ctx context.Context, r streamReply) {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.sub.SendJSON(sctx, r)
}
