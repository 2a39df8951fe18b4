package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// RestaurantRepo provides access to the restaurants table.  Plain methods
// run on the pool; methods with the Tx suffix run inside a caller-owned
// transaction and the caller must commit or roll back.
type RestaurantRepo struct {
	db *sql.DB
}

// NewRestaurantRepo returns a new RestaurantRepo bound to the given database.
func NewRestaurantRepo(db *sql.DB) *RestaurantRepo { return &RestaurantRepo{db: db} }

const restaurantColumns = `id, owner_id, name, address, phone, current_wait_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(row rowScanner) (model.Restaurant, error) {
	var r model.Restaurant
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Address, &r.Phone, &r.CurrentWaitTime, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrRestaurantNotFound
	}
	return r, classify(err)
}

// Create inserts a restaurant.  A missing ID is generated; timestamps are
// set to the current UTC time and the wait starts at zero.
func (r *RestaurantRepo) Create(ctx context.Context, res *model.Restaurant) error {
	if strings.TrimSpace(res.ID) == "" {
		res.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	res.CreatedAt, res.UpdatedAt = now, now
	res.CurrentWaitTime = 0
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO restaurants (`+restaurantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.OwnerID, res.Name, res.Address, res.Phone, res.CurrentWaitTime, res.CreatedAt, res.UpdatedAt)
	return classify(err)
}

// List returns every restaurant ordered by name.
func (r *RestaurantRepo) List(ctx context.Context) ([]model.Restaurant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Restaurant, 0)
	for rows.Next() {
		res, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// GetByID returns the restaurant or ErrRestaurantNotFound.
func (r *RestaurantRepo) GetByID(ctx context.Context, id string) (model.Restaurant, error) {
	return scanRestaurant(r.db.QueryRowContext(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id))
}

// IDs returns the IDs of every restaurant.
func (r *RestaurantRepo) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM restaurants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTx reads the restaurant inside tx without locking it.
func (r *RestaurantRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (model.Restaurant, error) {
	return scanRestaurant(tx.QueryRowContext(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id))
}

// LockForUpdateTx reads the restaurant row with SELECT ... FOR UPDATE so
// that concurrent transactions touching the same restaurant queue behind
// this one.
func (r *RestaurantRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Restaurant, error) {
	return scanRestaurant(tx.QueryRowContext(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE id = ? FOR UPDATE`, id))
}

// UpdateWaitTimeTx stores the aggregate wait of a restaurant.
func (r *RestaurantRepo) UpdateWaitTimeTx(ctx context.Context, tx *sql.Tx, id string, minutes int, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE restaurants SET current_wait_time = ?, updated_at = ? WHERE id = ?`, minutes, at, id)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 when the values are unchanged; confirm the row exists.
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM restaurants WHERE id = ?`, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return ErrRestaurantNotFound
		}
	}
	return nil
}
