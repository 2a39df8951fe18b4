package repository

import (
	"context"
	"time"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// QueueStore is the durable record of restaurants and their waitlist
// entries. Mutations go through a QueueTx; the remaining methods are plain
// reads that take no locks.
type QueueStore interface {
	BeginTx(ctx context.Context) (QueueTx, error)

	Restaurant(ctx context.Context, id string) (model.Restaurant, error)
	// ReadSnapshot returns the restaurant and its waiting set as of one
	// commit, ordered by creation time.  Positions are not filled in.
	ReadSnapshot(ctx context.Context, restaurantID string) (model.Snapshot, error)
	EntryRestaurantID(ctx context.Context, entryID string) (string, error)
	RestaurantIDs(ctx context.Context) ([]string, error)
}

// QueueTx is one transactional scope against the queue store. Reads made
// through it lock the returned rows until Commit or Rollback. Rollback
// after Commit is a no-op, so callers may always defer it.
type QueueTx interface {
	// LockRestaurant reads the restaurant row for update.
	LockRestaurant(ctx context.Context, id string) (model.Restaurant, error)
	// WaitingEntries returns the waiting set ordered by creation time.
	WaitingEntries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error)
	EntryForUpdate(ctx context.Context, entryID string) (model.WaitlistEntry, error)
	// WaitingByPhone returns the earliest waiting entry with that phone number.
	WaitingByPhone(ctx context.Context, restaurantID, phone string) (model.WaitlistEntry, error)

	InsertEntry(ctx context.Context, e *model.WaitlistEntry) error
	UpdateEntryStatus(ctx context.Context, entryID string, status model.Status, at time.Time) error
	UpdateEntryWait(ctx context.Context, entryID string, minutes int, at time.Time) error
	DeleteEntry(ctx context.Context, entryID string) error
	// DeleteStale removes waiting entries created before `before` and
	// finished entries last updated before it.
	DeleteStale(ctx context.Context, restaurantID string, before time.Time) (int64, error)
	UpdateRestaurantWait(ctx context.Context, restaurantID string, minutes int, at time.Time) error

	Commit() error
	Rollback() error
}

// Restaurants is the non-transactional directory used by the HTTP layer to
// create and browse restaurants.
type Restaurants interface {
	Create(ctx context.Context, r *model.Restaurant) error
	List(ctx context.Context) ([]model.Restaurant, error)
	GetByID(ctx context.Context, id string) (model.Restaurant, error)
	// Entries lists every entry of a restaurant, whatever its status,
	// ordered by creation time.
	Entries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error)
}

// Users stores accounts for the auth endpoints.
type Users interface {
	Create(ctx context.Context, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Tokens stores refresh token hashes.
type Tokens interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
