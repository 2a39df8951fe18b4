package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

func seedRestaurant(t *testing.T, m *MemoryStore) model.Restaurant {
	t.Helper()
	r := model.Restaurant{Name: "Bistro", OwnerID: 7}
	require.NoError(t, m.Create(context.Background(), &r))
	require.NotEmpty(t, r.ID)
	return r
}

func insert(t *testing.T, tx QueueTx, rid, id string, size int, at time.Time) {
	t.Helper()
	e := &model.WaitlistEntry{
		ID: id, RestaurantID: rid, CustomerName: id, PartySize: size,
		PhoneNumber: "555-" + id, Status: model.StatusWaiting, CreatedAt: at, UpdatedAt: at,
	}
	require.NoError(t, tx.InsertEntry(context.Background(), e))
}

func TestMemoryStore_CommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRestaurant(t, m)
	base := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)

	tx, err := m.BeginTx(ctx)
	require.NoError(t, err)
	insert(t, tx, r.ID, "b", 4, base.Add(time.Minute))
	insert(t, tx, r.ID, "a", 2, base)
	require.NoError(t, tx.UpdateRestaurantWait(ctx, r.ID, 60, base))

	// Uncommitted writes are invisible to plain reads.
	snap, err := m.ReadSnapshot(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Waitlist)
	assert.Zero(t, snap.Restaurant.CurrentWaitTime)

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	snap, err = m.ReadSnapshot(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, snap.Waitlist, 2)
	assert.Equal(t, "a", snap.Waitlist[0].ID)
	assert.Equal(t, "b", snap.Waitlist[1].ID)
	assert.Equal(t, 60, snap.Restaurant.CurrentWaitTime)

	_, err = m.ReadSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrRestaurantNotFound)
}

func TestMemoryStore_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRestaurant(t, m)

	tx, err := m.BeginTx(ctx)
	require.NoError(t, err)
	insert(t, tx, r.ID, "a", 2, time.Now())
	require.NoError(t, tx.Rollback())

	got, err := m.Entries(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_EqualTimestampsKeepInsertOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRestaurant(t, m)
	at := time.Now().UTC()

	tx, err := m.BeginTx(ctx)
	require.NoError(t, err)
	for _, id := range []string{"x", "y", "z"} {
		insert(t, tx, r.ID, id, 1, at)
	}
	list, err := tx.WaitingEntries(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []string{"x", "y", "z"}, ids)
}

func TestMemoryStore_BeginTxTimesOut(t *testing.T) {
	m := NewMemoryStore()
	tx, err := m.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.BeginTx(ctx)
	assert.True(t, errors.Is(err, ErrLockTimeout))
}

func TestMemoryStore_EntryLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRestaurant(t, m)
	base := time.Now().UTC()

	tx, err := m.BeginTx(ctx)
	require.NoError(t, err)
	insert(t, tx, r.ID, "a", 2, base)
	insert(t, tx, r.ID, "b", 3, base.Add(time.Second))
	require.NoError(t, tx.UpdateEntryStatus(ctx, "a", model.StatusSeated, base))

	_, err = tx.WaitingByPhone(ctx, r.ID, "555-a")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	e, err := tx.WaitingByPhone(ctx, r.ID, "555-b")
	require.NoError(t, err)
	assert.Equal(t, "b", e.ID)

	_, err = tx.EntryForUpdate(ctx, "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, tx.DeleteEntry(ctx, "nope"), ErrEntryNotFound)
	_, err = tx.LockRestaurant(ctx, "nope")
	assert.ErrorIs(t, err, ErrRestaurantNotFound)
	require.NoError(t, tx.Commit())

	rid, err := m.EntryRestaurantID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, r.ID, rid)
}

func TestMemoryStore_DeleteStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRestaurant(t, m)
	old := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cutoff := old.Add(time.Hour)

	tx, err := m.BeginTx(ctx)
	require.NoError(t, err)
	insert(t, tx, r.ID, "old-waiting", 2, old)
	insert(t, tx, r.ID, "old-seated", 2, old)
	require.NoError(t, tx.UpdateEntryStatus(ctx, "old-seated", model.StatusSeated, old))
	insert(t, tx, r.ID, "fresh", 2, cutoff.Add(time.Minute))

	n, err := tx.DeleteStale(ctx, r.ID, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, tx.Commit())

	left, err := m.Entries(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ID)
}

func TestMemoryUsersAndTokens(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	users := MemoryUsers{m}
	tokens := MemoryTokens{m}

	id, err := users.Create(ctx, " Owner@Example.com ", "secret123", model.RoleOwner, 4)
	require.NoError(t, err)
	_, err = users.Create(ctx, "owner@example.com", "x", model.RoleOwner, 4)
	assert.ErrorIs(t, err, ErrEmailExists)

	u, err := users.GetByEmail(ctx, "OWNER@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	_, err = users.GetByID(ctx, 999)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, tokens.StoreRefresh(ctx, id, "h1", time.Now().Add(time.Hour)))
	require.NoError(t, tokens.StoreRefresh(ctx, id, "h2", time.Now().Add(-time.Hour)))
	got, err := tokens.ValidateRefresh(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = tokens.ValidateRefresh(ctx, "h2")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	n, err := tokens.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, tokens.RevokeAllForUser(ctx, id))
	_, err = tokens.ValidateRefresh(ctx, "h1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
