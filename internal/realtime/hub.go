package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// EventWaitlistUpdated is the type of every snapshot push.
const EventWaitlistUpdated = "waitlist.updated"

// ErrSubscriberClosed is returned by Send once a subscriber's connection
// is gone.  The hub disconnects such subscribers.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Event is the message pushed to viewers of a restaurant.
type Event struct {
	Type       string                `json:"type"`
	Restaurant model.Restaurant      `json:"restaurant"`
	Waitlist   []model.WaitlistEntry `json:"waitlist"`
}

// NewEvent wraps a snapshot as a waitlist.updated event.
func NewEvent(snap model.Snapshot) Event {
	waitlist := snap.Waitlist
	if waitlist == nil {
		waitlist = []model.WaitlistEntry{}
	}
	return Event{Type: EventWaitlistUpdated, Restaurant: snap.Restaurant, Waitlist: waitlist}
}

// Hub delivers events to the members of a topic.  Events on a topic carry
// the restaurant's updated_at as their version; an event older than one
// already delivered on that topic is dropped.
type Hub struct {
	reg         *Registry
	sendTimeout time.Duration

	mu     sync.Mutex
	clocks map[string]*topicClock
}

type topicClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewHub returns a hub over reg.  A subscriber that does not accept an
// event within sendTimeout misses that event.
func NewHub(reg *Registry, sendTimeout time.Duration) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = time.Second
	}
	return &Hub{reg: reg, sendTimeout: sendTimeout, clocks: make(map[string]*topicClock)}
}

// Registry returns the hub's subscription registry.
func (h *Hub) Registry() *Registry { return h.reg }

// Publish pushes the snapshot to its restaurant's topic.  Delivery is best
// effort and Publish never fails.
func (h *Hub) Publish(ctx context.Context, snap model.Snapshot) error {
	h.Deliver(ctx, snap.Restaurant.ID, NewEvent(snap))
	return nil
}

// Deliver sends ev to every member of topic in parallel and returns when
// all sends have finished or timed out.  Deliveries on one topic are
// serialized, so every subscriber sees a topic's events in version order.
func (h *Hub) Deliver(ctx context.Context, topic string, ev Event) {
	c := h.clock(topic)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.advance(topic, ev) {
		return
	}
	members := h.reg.Members(topic)
	if len(members) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, s := range members {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			_ = h.send(ctx, topic, s, ev)
		}(s)
	}
	wg.Wait()
}

// SendTo sends ev to a single subscriber of topic, ordered against the
// topic's other deliveries.  A stale ev is skipped without error.
func (h *Hub) SendTo(ctx context.Context, topic string, s Subscriber, ev Event) error {
	c := h.clock(topic)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.advance(topic, ev) {
		return nil
	}
	return h.send(ctx, topic, s, ev)
}

func (h *Hub) send(ctx context.Context, topic string, s Subscriber, ev Event) error {
	sctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	err := s.Send(sctx, ev)
	if err != nil {
		log.Printf("realtime: drop %s for subscriber %s on %s: %v", ev.Type, s.ID(), topic, err)
		if errors.Is(err, ErrSubscriberClosed) {
			h.reg.Disconnect(s.ID())
		}
	}
	return err
}

func (h *Hub) clock(topic string) *topicClock {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clocks[topic]
	if !ok {
		c = &topicClock{}
		h.clocks[topic] = c
	}
	return c
}

// advance records ev's version and reports whether ev may be delivered.
// Equal versions pass so a snapshot relayed twice still reaches viewers.
func (c *topicClock) advance(topic string, ev Event) bool {
	v := ev.Restaurant.UpdatedAt
	if v.Before(c.last) {
		log.Printf("realtime: skip stale %s on %s (%s < %s)", ev.Type, topic,
			v.Format(time.RFC3339Nano), c.last.Format(time.RFC3339Nano))
		return false
	}
	c.last = v
	return true
}
