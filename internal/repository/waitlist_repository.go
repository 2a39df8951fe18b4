package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// WaitlistRepo provides access to the waitlist_entries table.  Queue order
// is created_at ascending with the auto-increment seq column breaking
// ties, so two parties that joined within the same microsecond still have
// a stable order.
type WaitlistRepo struct {
	db *sql.DB
}

// NewWaitlistRepo returns a new WaitlistRepo bound to the given database.
func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

const entryColumns = `id, restaurant_id, customer_name, party_size, phone_number, notes, status,
	estimated_wait_time, consent_given, created_at, updated_at`

const queueOrder = ` ORDER BY created_at ASC, seq ASC`

func scanEntry(row rowScanner) (model.WaitlistEntry, error) {
	var (
		e      model.WaitlistEntry
		notes  sql.NullString
		wait   sql.NullInt64
		status string
	)
	err := row.Scan(&e.ID, &e.RestaurantID, &e.CustomerName, &e.PartySize, &e.PhoneNumber, &notes, &status,
		&wait, &e.ConsentGiven, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrEntryNotFound
	}
	if err != nil {
		return e, classify(err)
	}
	e.Status = model.Status(status)
	if notes.Valid {
		n := notes.String
		e.Notes = &n
	}
	if wait.Valid {
		e.SetWait(int(wait.Int64))
	}
	return e, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]model.WaitlistEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

// ListByRestaurant returns every entry of a restaurant in queue order.
func (r *WaitlistRepo) ListByRestaurant(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error) {
	return queryEntries(ctx, r.db,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE restaurant_id = ?`+queueOrder, restaurantID)
}

// WaitingReadTx returns the waiting set inside tx without locking it.
func (r *WaitlistRepo) WaitingReadTx(ctx context.Context, tx *sql.Tx, restaurantID string) ([]model.WaitlistEntry, error) {
	return queryEntries(ctx, tx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE restaurant_id = ? AND status = 'waiting'`+queueOrder,
		restaurantID)
}

// RestaurantIDOf returns the restaurant an entry belongs to.
func (r *WaitlistRepo) RestaurantIDOf(ctx context.Context, entryID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT restaurant_id FROM waitlist_entries WHERE id = ?`, entryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrEntryNotFound
	}
	return id, classify(err)
}

// WaitingTx returns the waiting set and locks every returned row.
func (r *WaitlistRepo) WaitingTx(ctx context.Context, tx *sql.Tx, restaurantID string) ([]model.WaitlistEntry, error) {
	return queryEntries(ctx, tx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE restaurant_id = ? AND status = 'waiting'`+queueOrder+` FOR UPDATE`,
		restaurantID)
}

// GetForUpdateTx reads a single entry and locks it.
func (r *WaitlistRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, entryID string) (model.WaitlistEntry, error) {
	return scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id = ? FOR UPDATE`, entryID))
}

// WaitingByPhoneTx returns the earliest waiting entry of a restaurant with
// the given phone number and locks it.
func (r *WaitlistRepo) WaitingByPhoneTx(ctx context.Context, tx *sql.Tx, restaurantID, phone string) (model.WaitlistEntry, error) {
	return scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries
		 WHERE restaurant_id = ? AND phone_number = ? AND status = 'waiting'`+queueOrder+` LIMIT 1 FOR UPDATE`,
		restaurantID, phone))
}

// CreateTx inserts a new entry.  The caller supplies ID and timestamps.
func (r *WaitlistRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.WaitlistEntry) error {
	var wait any
	if e.EstimatedWaitTime != nil {
		wait = *e.EstimatedWaitTime
	}
	var notes any
	if e.Notes != nil {
		notes = *e.Notes
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO waitlist_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RestaurantID, e.CustomerName, e.PartySize, e.PhoneNumber, notes, string(e.Status),
		wait, e.ConsentGiven, e.CreatedAt, e.UpdatedAt)
	return classify(err)
}

// UpdateStatusTx changes the status of an entry.
func (r *WaitlistRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, entryID string, status model.Status, at time.Time) error {
	return execOne(ctx, tx, `UPDATE waitlist_entries SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at, entryID)
}

// UpdateWaitTx stores a recomputed estimated wait.
func (r *WaitlistRepo) UpdateWaitTx(ctx context.Context, tx *sql.Tx, entryID string, minutes int, at time.Time) error {
	return execOne(ctx, tx, `UPDATE waitlist_entries SET estimated_wait_time = ?, updated_at = ? WHERE id = ?`,
		minutes, at, entryID)
}

// DeleteTx removes an entry.
func (r *WaitlistRepo) DeleteTx(ctx context.Context, tx *sql.Tx, entryID string) error {
	return execOne(ctx, tx, `DELETE FROM waitlist_entries WHERE id = ?`, entryID)
}

// DeleteStaleTx removes entries that no longer belong on today's list.
func (r *WaitlistRepo) DeleteStaleTx(ctx context.Context, tx *sql.Tx, restaurantID string, before time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM waitlist_entries
		 WHERE restaurant_id = ?
		   AND ((status = 'waiting' AND created_at < ?) OR (status <> 'waiting' AND updated_at < ?))`,
		restaurantID, before, before)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}
