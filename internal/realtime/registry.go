// Package realtime pushes committed waitlist snapshots to live viewers.
//
// A Registry tracks which subscribers follow which restaurant topic, the
// Hub fans each snapshot out to a topic's members, and the RedisBridge
// carries snapshots between server instances so a viewer connected to
// any instance sees every update.
package realtime

import (
	"context"
	"sort"
	"sync"
)

// Subscriber is one live viewer.  Send must return once the event has been
// written or ctx is done.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, ev Event) error
}

// Registry maps topics (restaurant IDs) to their subscribers.  The
// registry does not stop a subscriber from following several topics; the
// stream handler leaves the old topic before joining a new one.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
	joined map[string]map[string]struct{} // subscriber ID -> topics
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds s to topic.  Joining twice is a no-op.
func (r *Registry) Join(topic string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.topics[topic]
	if !ok {
		members = make(map[string]Subscriber)
		r.topics[topic] = members
	}
	members[s.ID()] = s
	ts, ok := r.joined[s.ID()]
	if !ok {
		ts = make(map[string]struct{})
		r.joined[s.ID()] = ts
	}
	ts[topic] = struct{}{}
}

// Leave removes the subscriber from topic.
func (r *Registry) Leave(topic, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(topic, subscriberID)
}

func (r *Registry) leave(topic, subscriberID string) {
	if members, ok := r.topics[topic]; ok {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
	if ts, ok := r.joined[subscriberID]; ok {
		delete(ts, topic)
		if len(ts) == 0 {
			delete(r.joined, subscriberID)
		}
	}
}

// Disconnect removes the subscriber from every topic.
func (r *Registry) Disconnect(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.joined[subscriberID] {
		r.leave(topic, subscriberID)
	}
}

// Topics returns the topics the subscriber currently follows, sorted.
func (r *Registry) Topics(subscriberID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[subscriberID]))
	for t := range r.joined[subscriberID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Members returns a copy of the topic's subscribers.
func (r *Registry) Members(topic string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.topics[topic]))
	for _, s := range r.topics[topic] {
		out = append(out, s)
	}
	return out
}

// Count returns the number of subscribers following topic.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
