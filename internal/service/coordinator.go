// Package service holds the queue coordinator: the only code allowed to
// mutate a restaurant's waitlist.  Every mutation runs under a
// per-restaurant lock inside one store transaction, recomputes positions
// and waits with package waittime, commits, and publishes the resulting
// snapshot before the lock is released so subscribers see snapshots in
// commit order.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/repository"
	"github.com/iliyamo/restaurant-waitlist/internal/waittime"
)

// Publisher delivers a committed snapshot to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, snap model.Snapshot) error
}

// EventLogger appends a durable record of a mutation.  entry may be nil
// for restaurant-wide actions.
type EventLogger interface {
	LogEvent(ctx context.Context, restaurantID, action string, entry *model.WaitlistEntry) error
}

// Event actions passed to the EventLogger.
const (
	ActionJoin       = "join"
	ActionStatus     = "status_change"
	ActionRemove     = "remove"
	ActionCancel     = "cancel"
	ActionAdjustWait = "adjust_wait_time"
	ActionPurge      = "purge"
)

// RoleSystem identifies internal callers such as scheduled jobs.
const RoleSystem = "SYSTEM"

// Actor is the verified caller of a staff operation.
type Actor struct {
	UserID uint64
	Role   string
}

// SystemActor is used by background jobs.
var SystemActor = Actor{Role: RoleSystem}

// Options tunes a Coordinator.  Zero values select the defaults.
type Options struct {
	LockTimeout    time.Duration // default 5s
	TxTimeout      time.Duration // default 5s
	PublishTimeout time.Duration // default 2s
	MaxPartySize   int           // default 20
	Now            func() time.Time
	NewID          func() string
}

// Coordinator serializes waitlist mutations per restaurant.
type Coordinator struct {
	store  repository.QueueStore
	locks  *restaurantLocks
	pub    Publisher
	events EventLogger

	lockTimeout    time.Duration
	txTimeout      time.Duration
	publishTimeout time.Duration
	maxPartySize   int
	now            func() time.Time
	newID          func() string
}

// NewCoordinator wires a coordinator.  pub and events may be nil.
func NewCoordinator(store repository.QueueStore, pub Publisher, events EventLogger, opts Options) *Coordinator {
	c := &Coordinator{
		store:          store,
		locks:          newRestaurantLocks(),
		pub:            pub,
		events:         events,
		lockTimeout:    opts.LockTimeout,
		txTimeout:      opts.TxTimeout,
		publishTimeout: opts.PublishTimeout,
		maxPartySize:   opts.MaxPartySize,
		now:            opts.Now,
		newID:          opts.NewID,
	}
	if c.lockTimeout <= 0 {
		c.lockTimeout = 5 * time.Second
	}
	if c.txTimeout <= 0 {
		c.txTimeout = 5 * time.Second
	}
	if c.publishTimeout <= 0 {
		c.publishTimeout = 2 * time.Second
	}
	if c.maxPartySize <= 0 {
		c.maxPartySize = 20
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// JoinRequest carries the fields a customer submits to join a waitlist.
type JoinRequest struct {
	RestaurantID string
	CustomerName string
	PartySize    int
	PhoneNumber  string
	Notes        string
	ConsentGiven bool
}

// Result is returned by entry mutations: the affected entry as committed
// and the restaurant snapshot that was published.
type Result struct {
	Entry    model.WaitlistEntry `json:"entry"`
	Snapshot model.Snapshot      `json:"snapshot"`
}

// Join appends a new waiting party to the tail of the queue.  Existing
// waits are untouched; the restaurant wait becomes the aggregate wait of
// the grown waiting set.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (*Result, error) {
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := c.validateJoin(req); err != nil {
		return nil, err
	}

	var entry model.WaitlistEntry
	snap, err := c.mutate(ctx, req.RestaurantID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		waiting, err := tx.WaitingEntries(ctx, rest.ID)
		if err != nil {
			return nil, err
		}
		at := c.stamp()
		if n := len(waiting); n > 0 && !at.After(waiting[n-1].CreatedAt) {
			at = waiting[n-1].CreatedAt.Add(time.Microsecond)
		}
		for i := range waiting {
			waiting[i].Position = i + 1
		}

		entry = model.WaitlistEntry{
			ID:           c.newID(),
			RestaurantID: rest.ID,
			CustomerName: req.CustomerName,
			PartySize:    req.PartySize,
			PhoneNumber:  req.PhoneNumber,
			Status:       model.StatusWaiting,
			ConsentGiven: req.ConsentGiven,
			Position:     len(waiting) + 1,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		if req.Notes != "" {
			notes := req.Notes
			entry.Notes = &notes
		}
		entry.SetWait(waittime.IndividualWait(entry.Position, entry.PartySize))
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return nil, err
		}

		waiting = append(waiting, entry)
		if err := c.setRestaurantWait(ctx, tx, rest, waittime.AggregateWait(waiting), at); err != nil {
			return nil, err
		}
		return &change{action: ActionJoin, entry: &entry, waiting: waiting}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Snapshot: snap}, nil
}

func (c *Coordinator) validateJoin(req JoinRequest) error {
	fields := map[string]string{}
	if req.RestaurantID == "" {
		fields["restaurant_id"] = "is required"
	}
	if req.CustomerName == "" {
		fields["customer_name"] = "is required"
	}
	if req.PhoneNumber == "" {
		fields["phone_number"] = "is required"
	}
	switch {
	case req.PartySize < 1:
		fields["party_size"] = "must be at least 1"
	case req.PartySize > c.maxPartySize:
		fields["party_size"] = fmt.Sprintf("must be at most %d", c.maxPartySize)
	}
	if !req.ConsentGiven {
		fields["consent_given"] = "consent is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// AdjustWaitTime shifts the restaurant wait by delta minutes and re-ranks
// every waiting party with the same delta applied on top of its formula
// wait.  Both results are clamped at zero.
func (c *Coordinator) AdjustWaitTime(ctx context.Context, actor Actor, restaurantID string, delta int) (model.Snapshot, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return model.Snapshot{}, invalid("restaurant_id", "is required")
	}
	return c.mutate(ctx, restaurantID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		if err := Authorize(actor, *rest); err != nil {
			return nil, err
		}
		at := c.stamp()
		waiting, err := c.rerank(ctx, tx, rest.ID, delta, at)
		if err != nil {
			return nil, err
		}
		if err := c.setRestaurantWait(ctx, tx, rest, waittime.Adjusted(rest.CurrentWaitTime, delta), at); err != nil {
			return nil, err
		}
		return &change{action: ActionAdjustWait, waiting: waiting}, nil
	})
}

// UpdateStatus moves a waiting entry to a terminal status.  Its wait is
// frozen; the remaining parties are re-ranked and the restaurant wait
// becomes the aggregate wait.
func (c *Coordinator) UpdateStatus(ctx context.Context, actor Actor, entryID, status string) (*Result, error) {
	next, err := model.ParseStatus(status)
	if err != nil {
		return nil, invalid("status", err.Error())
	}
	var entry model.WaitlistEntry
	snap, err := c.mutateEntry(ctx, entryID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		if err := Authorize(actor, *rest); err != nil {
			return nil, err
		}
		e, err := lockEntry(ctx, tx, rest.ID, entryID)
		if err != nil {
			return nil, err
		}
		if !e.Status.CanTransition(next) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
		}
		at := c.stamp()
		if err := tx.UpdateEntryStatus(ctx, e.ID, next, at); err != nil {
			return nil, err
		}
		e.Status, e.UpdatedAt = next, at
		entry = e

		waiting, err := c.rerank(ctx, tx, rest.ID, 0, at)
		if err != nil {
			return nil, err
		}
		if err := c.setRestaurantWait(ctx, tx, rest, waittime.AggregateWait(waiting), at); err != nil {
			return nil, err
		}
		return &change{action: ActionStatus, entry: &entry, waiting: waiting}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Snapshot: snap}, nil
}

// Remove deletes a waiting entry.  The restaurant wait becomes what the
// new head of the queue will wait.
func (c *Coordinator) Remove(ctx context.Context, actor Actor, entryID string) (*Result, error) {
	var entry model.WaitlistEntry
	snap, err := c.mutateEntry(ctx, entryID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		if err := Authorize(actor, *rest); err != nil {
			return nil, err
		}
		e, err := lockEntry(ctx, tx, rest.ID, entryID)
		if err != nil {
			return nil, err
		}
		entry = e
		return c.removeLocked(ctx, tx, rest, &entry, ActionRemove)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Snapshot: snap}, nil
}

// CancelByPhone removes the earliest waiting entry of the restaurant with
// that phone number, exactly as Remove does.
func (c *Coordinator) CancelByPhone(ctx context.Context, restaurantID, phone string) (*Result, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, invalid("phone_number", "is required")
	}
	if restaurantID == "" {
		return nil, invalid("restaurant_id", "is required")
	}
	var entry model.WaitlistEntry
	snap, err := c.mutate(ctx, restaurantID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		e, err := tx.WaitingByPhone(ctx, rest.ID, phone)
		if err != nil {
			return nil, err
		}
		entry = e
		return c.removeLocked(ctx, tx, rest, &entry, ActionCancel)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Snapshot: snap}, nil
}

func (c *Coordinator) removeLocked(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant, e *model.WaitlistEntry, action string) (*change, error) {
	if e.Status != model.StatusWaiting {
		return nil, fmt.Errorf("%w: cannot remove %s entry", ErrInvalidTransition, e.Status)
	}
	if err := tx.DeleteEntry(ctx, e.ID); err != nil {
		return nil, err
	}
	at := c.stamp()
	waiting, err := c.rerank(ctx, tx, rest.ID, 0, at)
	if err != nil {
		return nil, err
	}
	if err := c.setRestaurantWait(ctx, tx, rest, waittime.FirstPositionWait(waiting), at); err != nil {
		return nil, err
	}
	return &change{action: action, entry: e, waiting: waiting}, nil
}

// Purge deletes waiting entries created before `before` and finished
// entries last updated before it, then re-ranks what is left.  Nothing is
// committed or published when no entry qualifies.
func (c *Coordinator) Purge(ctx context.Context, restaurantID string, before time.Time) (int64, error) {
	var removed int64
	_, err := c.mutate(ctx, restaurantID, func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error) {
		n, err := tx.DeleteStale(ctx, rest.ID, before.UTC())
		if err != nil {
			return nil, err
		}
		removed = n
		if n == 0 {
			return &change{noop: true}, nil
		}
		at := c.stamp()
		waiting, err := c.rerank(ctx, tx, rest.ID, 0, at)
		if err != nil {
			return nil, err
		}
		if err := c.setRestaurantWait(ctx, tx, rest, waittime.AggregateWait(waiting), at); err != nil {
			return nil, err
		}
		return &change{action: ActionPurge, waiting: waiting}, nil
	})
	return removed, err
}

// PurgeAll runs Purge for every restaurant.  A failing restaurant is
// logged and skipped; the first error is returned after the sweep.
func (c *Coordinator) PurgeAll(ctx context.Context, before time.Time) (int64, error) {
	ids, err := c.store.RestaurantIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list restaurants: %v", ErrStoreFailure, err)
	}
	var (
		total    int64
		firstErr error
	)
	for _, id := range ids {
		n, err := c.Purge(ctx, id, before)
		if err != nil {
			log.Printf("coordinator: purge restaurant %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	return total, firstErr
}

// Snapshot reads the restaurant and its ranked waiting list as of one
// commit, without taking the restaurant lock.
func (c *Coordinator) Snapshot(ctx context.Context, restaurantID string) (model.Snapshot, error) {
	snap, err := c.store.ReadSnapshot(ctx, restaurantID)
	if err != nil {
		return model.Snapshot{}, classify("read snapshot", err)
	}
	for i := range snap.Waitlist {
		snap.Waitlist[i].Position = i + 1
	}
	snap.Waitlist = nonNil(snap.Waitlist)
	return snap, nil
}

// WithSnapshot holds the restaurant lock while it reads the snapshot and
// runs fn with it.  No mutation of that restaurant can commit or publish
// until fn returns, so a subscriber that joined the topic first and then
// sends this snapshot from fn never receives it after a newer one.
func (c *Coordinator) WithSnapshot(ctx context.Context, restaurantID string, fn func(model.Snapshot) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	release, err := c.locks.Acquire(lockCtx, restaurantID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: waiting for restaurant %s: %v", ErrConcurrencyTimeout, restaurantID, err)
	}
	defer release()

	snap, err := c.Snapshot(ctx, restaurantID)
	if err != nil {
		return err
	}
	return fn(snap)
}

// change is what a mutation reports back to mutate.
type change struct {
	action  string
	entry   *model.WaitlistEntry
	waiting []model.WaitlistEntry
	noop    bool
}

type applyFunc func(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant) (*change, error)

// mutateEntry resolves the entry's restaurant without locking, then runs
// apply under that restaurant's lock.  apply must re-read the entry.
func (c *Coordinator) mutateEntry(ctx context.Context, entryID string, apply applyFunc) (model.Snapshot, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return model.Snapshot{}, invalid("entry_id", "is required")
	}
	restaurantID, err := c.store.EntryRestaurantID(ctx, entryID)
	if err != nil {
		return model.Snapshot{}, classify("find entry", err)
	}
	return c.mutate(ctx, restaurantID, apply)
}

func (c *Coordinator) mutate(ctx context.Context, restaurantID string, apply applyFunc) (model.Snapshot, error) {
	snap, ch, err := c.locked(ctx, restaurantID, apply)
	if err != nil {
		return model.Snapshot{}, err
	}
	if ch.noop {
		return snap, nil
	}
	c.logEvent(ctx, restaurantID, ch)
	return snap, nil
}

// locked is the critical section: lock, transaction, apply, commit and
// publish.  Every return path releases the lock and rolls back anything
// not committed.
func (c *Coordinator) locked(ctx context.Context, restaurantID string, apply applyFunc) (model.Snapshot, *change, error) {
	lockCtx, cancelLock := context.WithTimeout(ctx, c.lockTimeout)
	release, err := c.locks.Acquire(lockCtx, restaurantID)
	cancelLock()
	if err != nil {
		return model.Snapshot{}, nil, fmt.Errorf("%w: waiting for restaurant %s: %v", ErrConcurrencyTimeout, restaurantID, err)
	}
	defer release()

	txCtx, cancelTx := context.WithTimeout(ctx, c.txTimeout)
	defer cancelTx()

	tx, err := c.store.BeginTx(txCtx)
	if err != nil {
		return model.Snapshot{}, nil, classify("begin", err)
	}
	defer tx.Rollback()

	rest, err := tx.LockRestaurant(txCtx, restaurantID)
	if err != nil {
		return model.Snapshot{}, nil, classify("lock restaurant", err)
	}
	ch, err := apply(txCtx, tx, &rest)
	if err != nil {
		return model.Snapshot{}, nil, classify("apply", err)
	}
	if ch.noop {
		return model.Snapshot{}, ch, nil
	}
	if err := tx.Commit(); err != nil {
		if txCtx.Err() != nil {
			return model.Snapshot{}, nil, fmt.Errorf("%w: commit: %v", ErrConcurrencyTimeout, err)
		}
		return model.Snapshot{}, nil, classify("commit", err)
	}

	snap := model.Snapshot{Restaurant: rest, Waitlist: nonNil(ch.waiting)}
	c.publish(ctx, snap)
	return snap, ch, nil
}

func (c *Coordinator) publish(ctx context.Context, snap model.Snapshot) {
	if c.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	defer cancel()
	if err := c.pub.Publish(pctx, snap); err != nil {
		log.Printf("coordinator: publish restaurant %s: %v", snap.Restaurant.ID, err)
	}
}

func (c *Coordinator) logEvent(ctx context.Context, restaurantID string, ch *change) {
	if c.events == nil {
		return
	}
	if err := c.events.LogEvent(context.WithoutCancel(ctx), restaurantID, ch.action, ch.entry); err != nil {
		log.Printf("coordinator: log %s event for restaurant %s: %v", ch.action, restaurantID, err)
	}
}

// rerank reads the waiting set under lock, ranks it with delta and
// writes back only the waits that changed.
func (c *Coordinator) rerank(ctx context.Context, tx repository.QueueTx, restaurantID string, delta int, at time.Time) ([]model.WaitlistEntry, error) {
	waiting, err := tx.WaitingEntries(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	for _, i := range waittime.Rank(waiting, delta) {
		if err := tx.UpdateEntryWait(ctx, waiting[i].ID, waiting[i].Wait(), at); err != nil {
			return nil, err
		}
		waiting[i].UpdatedAt = at
	}
	return waiting, nil
}

// setRestaurantWait stores the new wait.  The restaurant's updated_at only
// ever moves forward, so it orders the snapshots of one restaurant even
// when two commits share a clock reading.
func (c *Coordinator) setRestaurantWait(ctx context.Context, tx repository.QueueTx, rest *model.Restaurant, minutes int, at time.Time) error {
	if !at.After(rest.UpdatedAt) {
		at = rest.UpdatedAt.Add(time.Microsecond)
	}
	if err := tx.UpdateRestaurantWait(ctx, rest.ID, minutes, at); err != nil {
		return err
	}
	rest.CurrentWaitTime, rest.UpdatedAt = minutes, at
	return nil
}

// stamp returns the current time at the store's microsecond precision.
func (c *Coordinator) stamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

func lockEntry(ctx context.Context, tx repository.QueueTx, restaurantID, entryID string) (model.WaitlistEntry, error) {
	e, err := tx.EntryForUpdate(ctx, entryID)
	if err != nil {
		return e, err
	}
	if e.RestaurantID != restaurantID {
		return e, repository.ErrEntryNotFound
	}
	return e, nil
}

// Authorize reports whether actor may manage rest: admins and the system
// always may, owners only their own restaurants.
func Authorize(actor Actor, rest model.Restaurant) error {
	switch actor.Role {
	case RoleSystem, model.RoleAdmin:
		return nil
	case model.RoleOwner:
		if actor.UserID != 0 && actor.UserID == rest.OwnerID {
			return nil
		}
	}
	return fmt.Errorf("%w: restaurant %s", ErrForbidden, rest.ID)
}

// classify maps store errors onto the coordinator's error taxonomy.
// Errors already in the taxonomy pass through.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrConcurrencyTimeout), errors.Is(err, ErrStoreFailure):
		return err
	case errors.Is(err, repository.ErrRestaurantNotFound), errors.Is(err, repository.ErrEntryNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrConcurrencyTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreFailure, op, err)
}

func nonNil(entries []model.WaitlistEntry) []model.WaitlistEntry {
	if entries == nil {
		return []model.WaitlistEntry{}
	}
	return entries
}
