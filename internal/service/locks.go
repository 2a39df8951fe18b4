package service

import (
	"context"
	"sync"
)

// restaurantLocks hands out one mutual-exclusion slot per restaurant.
// Slots are created on first use and dropped when nobody holds or waits
// for them, so the map only grows with the number of busy restaurants.
type restaurantLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newRestaurantLocks() *restaurantLocks {
	return &restaurantLocks{slots: make(map[string]*lockSlot)}
}

// Acquire blocks until the restaurant's slot is free or ctx is done.  The
// returned release func must be called exactly once.
func (l *restaurantLocks) Acquire(ctx context.Context, restaurantID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[restaurantID]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[restaurantID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.unref(restaurantID, s)
		}, nil
	case <-ctx.Done():
		l.unref(restaurantID, s)
		return nil, ctx.Err()
	}
}

func (l *restaurantLocks) unref(restaurantID string, s *lockSlot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, restaurantID)
	}
	l.mu.Unlock()
}

// size reports the number of live slots.
func (l *restaurantLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
