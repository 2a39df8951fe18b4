// Package jobs runs the scheduled maintenance of the waitlist on asynq:
// a nightly purge of stale entries and a sweep of expired refresh tokens.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypePurgeWaitlist = "waitlist:purge"
	TypePurgeTokens   = "tokens:purge"
)

// AllRestaurants selects every restaurant in a purge payload.
const AllRestaurants = "all"

// PurgeWaitlistPayload selects what a purge removes.  Entries older than
// MaxAgeMinutes are deleted.
type PurgeWaitlistPayload struct {
	RestaurantID  string `json:"restaurant_id"`
	MaxAgeMinutes int    `json:"max_age_minutes"`
}

// NewPurgeWaitlistTask builds a purge task for one restaurant or AllRestaurants.
func NewPurgeWaitlistTask(restaurantID string, maxAge time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(PurgeWaitlistPayload{RestaurantID: restaurantID, MaxAgeMinutes: int(maxAge / time.Minute)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePurgeWaitlist, b), nil
}

// Purger is the coordinator side of a purge.
type Purger interface {
	Purge(ctx context.Context, restaurantID string, before time.Time) (int64, error)
	PurgeAll(ctx context.Context, before time.Time) (int64, error)
}

// TokenSweeper deletes refresh tokens that expired before a cut-off.
type TokenSweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Handlers executes the maintenance tasks.
type Handlers struct {
	Purger Purger
	Tokens TokenSweeper
	Now    func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandlePurgeWaitlist removes entries older than the payload's max age.
func (h *Handlers) HandlePurgeWaitlist(ctx context.Context, t *asynq.Task) error {
	var p PurgeWaitlistPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypePurgeWaitlist, err, asynq.SkipRetry)
	}
	if p.MaxAgeMinutes <= 0 {
		return fmt.Errorf("%s: max_age_minutes must be positive: %w", TypePurgeWaitlist, asynq.SkipRetry)
	}
	before := h.now().Add(-time.Duration(p.MaxAgeMinutes) * time.Minute)

	var (
		n   int64
		err error
	)
	if p.RestaurantID == "" || p.RestaurantID == AllRestaurants {
		n, err = h.Purger.PurgeAll(ctx, before)
	} else {
		n, err = h.Purger.Purge(ctx, p.RestaurantID, before)
	}
	if err != nil {
		return err
	}
	log.Printf("jobs: purged %d waitlist entries older than %s", n, before.Format(time.RFC3339))
	return nil
}

// HandlePurgeTokens deletes expired refresh tokens.
func (h *Handlers) HandlePurgeTokens(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Tokens.DeleteExpired(ctx, h.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("jobs: deleted %d expired refresh tokens", n)
	}
	return nil
}
