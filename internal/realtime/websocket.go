package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// WSSubscriber sends events over a websocket connection.
type WSSubscriber struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSSubscriber wraps conn with a fresh subscriber ID.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{id: uuid.NewString(), conn: conn}
}

func (s *WSSubscriber) ID() string { return s.id }

// Send writes ev as one JSON text frame.  The write deadline follows ctx.
func (s *WSSubscriber) Send(ctx context.Context, ev Event) error {
	return s.SendJSON(ctx, ev)
}

// SendJSON writes any JSON message, serialized with other writes.
func (s *WSSubscriber) SendJSON(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return websocket.JSON.Send(s.conn, v)
}

// Close marks the subscriber closed and closes the connection.
func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
