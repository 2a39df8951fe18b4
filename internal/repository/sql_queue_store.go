package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// SQLQueueStore implements QueueStore on MySQL.  Row locks taken with
// SELECT ... FOR UPDATE serialize writers of the same restaurant inside
// the database; the session's innodb_lock_wait_timeout bounds the wait.
type SQLQueueStore struct {
	db          *sql.DB
	restaurants *RestaurantRepo
	entries     *WaitlistRepo
}

// NewSQLQueueStore builds a queue store over the given pool.
func NewSQLQueueStore(db *sql.DB) *SQLQueueStore {
	return &SQLQueueStore{db: db, restaurants: NewRestaurantRepo(db), entries: NewWaitlistRepo(db)}
}

// BeginTx starts a read-committed transaction.  Consistency of the waiting
// set comes from the row locks, not from the isolation level.
func (s *SQLQueueStore) BeginTx(ctx context.Context) (QueueTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify(err)
	}
	return &sqlQueueTx{tx: tx, restaurants: s.restaurants, entries: s.entries}, nil
}

func (s *SQLQueueStore) Restaurant(ctx context.Context, id string) (model.Restaurant, error) {
	return s.restaurants.GetByID(ctx, id)
}

// ReadSnapshot runs both reads in one read-only repeatable-read
// transaction; InnoDB serves them from the same consistent view.
func (s *SQLQueueStore) ReadSnapshot(ctx context.Context, restaurantID string) (model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return model.Snapshot{}, classify(err)
	}
	defer tx.Rollback()

	rest, err := s.restaurants.GetTx(ctx, tx, restaurantID)
	if err != nil {
		return model.Snapshot{}, err
	}
	waiting, err := s.entries.WaitingReadTx(ctx, tx, restaurantID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Snapshot{}, classify(err)
	}
	return model.Snapshot{Restaurant: rest, Waitlist: waiting}, nil
}

func (s *SQLQueueStore) EntryRestaurantID(ctx context.Context, entryID string) (string, error) {
	return s.entries.RestaurantIDOf(ctx, entryID)
}

func (s *SQLQueueStore) RestaurantIDs(ctx context.Context) ([]string, error) {
	return s.restaurants.IDs(ctx)
}

// sqlQueueTx adapts the repositories' Tx methods to QueueTx.
type sqlQueueTx struct {
	tx          *sql.Tx
	restaurants *RestaurantRepo
	entries     *WaitlistRepo
	done        bool
}

func (t *sqlQueueTx) LockRestaurant(ctx context.Context, id string) (model.Restaurant, error) {
	return t.restaurants.LockForUpdateTx(ctx, t.tx, id)
}

func (t *sqlQueueTx) WaitingEntries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error) {
	return t.entries.WaitingTx(ctx, t.tx, restaurantID)
}

func (t *sqlQueueTx) EntryForUpdate(ctx context.Context, entryID string) (model.WaitlistEntry, error) {
	return t.entries.GetForUpdateTx(ctx, t.tx, entryID)
}

func (t *sqlQueueTx) WaitingByPhone(ctx context.Context, restaurantID, phone string) (model.WaitlistEntry, error) {
	return t.entries.WaitingByPhoneTx(ctx, t.tx, restaurantID, phone)
}

func (t *sqlQueueTx) InsertEntry(ctx context.Context, e *model.WaitlistEntry) error {
	return t.entries.CreateTx(ctx, t.tx, e)
}

func (t *sqlQueueTx) UpdateEntryStatus(ctx context.Context, entryID string, status model.Status, at time.Time) error {
	return t.entries.UpdateStatusTx(ctx, t.tx, entryID, status, at)
}

func (t *sqlQueueTx) UpdateEntryWait(ctx context.Context, entryID string, minutes int, at time.Time) error {
	return t.entries.UpdateWaitTx(ctx, t.tx, entryID, minutes, at)
}

func (t *sqlQueueTx) DeleteEntry(ctx context.Context, entryID string) error {
	return t.entries.DeleteTx(ctx, t.tx, entryID)
}

func (t *sqlQueueTx) DeleteStale(ctx context.Context, restaurantID string, before time.Time) (int64, error) {
	return t.entries.DeleteStaleTx(ctx, t.tx, restaurantID, before)
}

func (t *sqlQueueTx) UpdateRestaurantWait(ctx context.Context, restaurantID string, minutes int, at time.Time) error {
	return t.restaurants.UpdateWaitTimeTx(ctx, t.tx, restaurantID, minutes, at)
}

func (t *sqlQueueTx) Commit() error {
	t.done = true
	return classify(t.tx.Commit())
}

func (t *sqlQueueTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// RestaurantDirectory combines the restaurant and waitlist repositories
// into the Restaurants view used by handlers.
type RestaurantDirectory struct {
	*RestaurantRepo
	entries *WaitlistRepo
}

// NewRestaurantDirectory returns a Restaurants backed by MySQL.
func NewRestaurantDirectory(db *sql.DB) *RestaurantDirectory {
	return &RestaurantDirectory{RestaurantRepo: NewRestaurantRepo(db), entries: NewWaitlistRepo(db)}
}

// Entries lists every entry of a restaurant in queue order.
func (d *RestaurantDirectory) Entries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error) {
	return d.entries.ListByRestaurant(ctx, restaurantID)
}
