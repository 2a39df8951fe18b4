package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/utils"
)

// MemoryStore keeps restaurants, entries, users and refresh tokens in
// process memory.  It backs STORE_BACKEND=memory and the test suites.
//
// Transactions are fully serialized: BeginTx takes a single slot that is
// held until Commit or Rollback, and writes are applied to a private copy
// that replaces the shared state on Commit.  Plain reads never wait for a
// transaction and see the last committed state.
type MemoryStore struct {
	slot chan struct{}

	mu          sync.RWMutex
	state       memState
	users       map[uint64]model.User
	usersByMail map[string]uint64
	tokens      map[string]memToken
	nextUserID  uint64
}

type memState struct {
	restaurants map[string]model.Restaurant
	entries     map[string]memEntry
	seq         int64
}

type memEntry struct {
	model.WaitlistEntry
	seq int64
}

type memToken struct {
	userID    uint64
	expiresAt time.Time
	revoked   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slot: make(chan struct{}, 1),
		state: memState{
			restaurants: map[string]model.Restaurant{},
			entries:     map[string]memEntry{},
		},
		users:       map[uint64]model.User{},
		usersByMail: map[string]uint64{},
		tokens:      map[string]memToken{},
	}
}

func (s memState) clone() memState {
	c := memState{
		restaurants: make(map[string]model.Restaurant, len(s.restaurants)),
		entries:     make(map[string]memEntry, len(s.entries)),
		seq:         s.seq,
	}
	for k, v := range s.restaurants {
		c.restaurants[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

// list returns copies of the entries of a restaurant accepted by keep, in
// queue order.
func (s memState) list(restaurantID string, keep func(model.WaitlistEntry) bool) []model.WaitlistEntry {
	var picked []memEntry
	for _, e := range s.entries {
		if e.RestaurantID == restaurantID && keep(e.WaitlistEntry) {
			picked = append(picked, e)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if !picked[i].CreatedAt.Equal(picked[j].CreatedAt) {
			return picked[i].CreatedAt.Before(picked[j].CreatedAt)
		}
		return picked[i].seq < picked[j].seq
	})
	out := make([]model.WaitlistEntry, 0, len(picked))
	for _, e := range picked {
		out = append(out, copyEntry(e.WaitlistEntry))
	}
	return out
}

func copyEntry(e model.WaitlistEntry) model.WaitlistEntry {
	if e.Notes != nil {
		n := *e.Notes
		e.Notes = &n
	}
	if e.EstimatedWaitTime != nil {
		e.SetWait(*e.EstimatedWaitTime)
	}
	return e
}

func isWaiting(e model.WaitlistEntry) bool { return e.Status == model.StatusWaiting }

// BeginTx waits for the transaction slot until ctx is done.
func (m *MemoryStore) BeginTx(ctx context.Context) (QueueTx, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()
	return &memTx{store: m, state: work}, nil
}

func (m *MemoryStore) Restaurant(ctx context.Context, id string) (model.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.restaurants[id]
	if !ok {
		return model.Restaurant{}, ErrRestaurantNotFound
	}
	return r, nil
}

// ReadSnapshot reads the restaurant and its waiting set under one read
// lock, so a concurrent Commit is seen entirely or not at all.
func (m *MemoryStore) ReadSnapshot(ctx context.Context, restaurantID string) (model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.restaurants[restaurantID]
	if !ok {
		return model.Snapshot{}, ErrRestaurantNotFound
	}
	return model.Snapshot{Restaurant: r, Waitlist: m.state.list(restaurantID, isWaiting)}, nil
}

func (m *MemoryStore) EntryRestaurantID(ctx context.Context, entryID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.state.entries[entryID]
	if !ok {
		return "", ErrEntryNotFound
	}
	return e.RestaurantID, nil
}

func (m *MemoryStore) RestaurantIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.state.restaurants))
	for id := range m.state.restaurants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Create inserts a restaurant outside of any queue transaction.
func (m *MemoryStore) Create(ctx context.Context, r *model.Restaurant) error {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.CurrentWaitTime = 0
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.restaurants[r.ID]; ok {
		return ErrConflict
	}
	m.state.restaurants[r.ID] = *r
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]model.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Restaurant, 0, len(m.state.restaurants))
	for _, r := range m.state.restaurants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (model.Restaurant, error) {
	return m.Restaurant(ctx, id)
}

func (m *MemoryStore) Entries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.list(restaurantID, func(model.WaitlistEntry) bool { return true }), nil
}

// memTx works on a private copy of the state.
type memTx struct {
	store *MemoryStore
	state memState
	done  bool
}

func (t *memTx) LockRestaurant(ctx context.Context, id string) (model.Restaurant, error) {
	r, ok := t.state.restaurants[id]
	if !ok {
		return model.Restaurant{}, ErrRestaurantNotFound
	}
	return r, nil
}

func (t *memTx) WaitingEntries(ctx context.Context, restaurantID string) ([]model.WaitlistEntry, error) {
	return t.state.list(restaurantID, isWaiting), nil
}

func (t *memTx) EntryForUpdate(ctx context.Context, entryID string) (model.WaitlistEntry, error) {
	e, ok := t.state.entries[entryID]
	if !ok {
		return model.WaitlistEntry{}, ErrEntryNotFound
	}
	return copyEntry(e.WaitlistEntry), nil
}

func (t *memTx) WaitingByPhone(ctx context.Context, restaurantID, phone string) (model.WaitlistEntry, error) {
	list := t.state.list(restaurantID, func(e model.WaitlistEntry) bool {
		return isWaiting(e) && e.PhoneNumber == phone
	})
	if len(list) == 0 {
		return model.WaitlistEntry{}, ErrEntryNotFound
	}
	return list[0], nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *model.WaitlistEntry) error {
	if _, ok := t.state.entries[e.ID]; ok {
		return ErrConflict
	}
	if _, ok := t.state.restaurants[e.RestaurantID]; !ok {
		return ErrRestaurantNotFound
	}
	t.state.seq++
	t.state.entries[e.ID] = memEntry{WaitlistEntry: copyEntry(*e), seq: t.state.seq}
	return nil
}

func (t *memTx) update(entryID string, fn func(*model.WaitlistEntry)) error {
	e, ok := t.state.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	fn(&e.WaitlistEntry)
	t.state.entries[entryID] = e
	return nil
}

func (t *memTx) UpdateEntryStatus(ctx context.Context, entryID string, status model.Status, at time.Time) error {
	return t.update(entryID, func(e *model.WaitlistEntry) {
		e.Status = status
		e.UpdatedAt = at
	})
}

func (t *memTx) UpdateEntryWait(ctx context.Context, entryID string, minutes int, at time.Time) error {
	return t.update(entryID, func(e *model.WaitlistEntry) {
		e.SetWait(minutes)
		e.UpdatedAt = at
	})
}

func (t *memTx) DeleteEntry(ctx context.Context, entryID string) error {
	if _, ok := t.state.entries[entryID]; !ok {
		return ErrEntryNotFound
	}
	delete(t.state.entries, entryID)
	return nil
}

func (t *memTx) DeleteStale(ctx context.Context, restaurantID string, before time.Time) (int64, error) {
	var n int64
	for id, e := range t.state.entries {
		if e.RestaurantID != restaurantID {
			continue
		}
		stale := (isWaiting(e.WaitlistEntry) && e.CreatedAt.Before(before)) ||
			(!isWaiting(e.WaitlistEntry) && e.UpdatedAt.Before(before))
		if stale {
			delete(t.state.entries, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) UpdateRestaurantWait(ctx context.Context, restaurantID string, minutes int, at time.Time) error {
	r, ok := t.state.restaurants[restaurantID]
	if !ok {
		return ErrRestaurantNotFound
	}
	r.CurrentWaitTime = minutes
	r.UpdatedAt = at
	t.state.restaurants[restaurantID] = r
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("memory store: transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	// Restaurants created outside transactions while this one ran are kept.
	for id, r := range t.store.state.restaurants {
		if _, ok := t.state.restaurants[id]; !ok {
			t.state.restaurants[id] = r
		}
	}
	t.store.state = t.state
	t.store.mu.Unlock()
	<-t.store.slot
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.slot
	return nil
}

// MemoryUsers adapts the store to the Users interface.
type MemoryUsers struct{ *MemoryStore }

func (u MemoryUsers) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.usersByMail[email]; ok {
		return 0, ErrEmailExists
	}
	u.nextUserID++
	now := time.Now().UTC()
	u.users[u.nextUserID] = model.User{
		ID: u.nextUserID, Email: email, PasswordHash: hash, Role: role,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	u.usersByMail[email] = u.nextUserID
	return u.nextUserID, nil
}

func (u MemoryUsers) GetByEmail(ctx context.Context, email string) (model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.usersByMail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u.users[id], nil
}

func (u MemoryUsers) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	usr, ok := u.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return usr, nil
}

// MemoryTokens adapts the store to the Tokens interface.
type MemoryTokens struct{ *MemoryStore }

func (t MemoryTokens) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[tokenHash] = memToken{userID: userID, expiresAt: exp}
	return nil
}

func (t MemoryTokens) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.tokens[tokenHash]
	if !ok || tok.revoked || time.Now().UTC().After(tok.expiresAt) {
		return 0, sql.ErrNoRows
	}
	return tok.userID, nil
}

func (t MemoryTokens) RevokeByHash(ctx context.Context, tokenHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.tokens[tokenHash]; ok {
		tok.revoked = true
		t.tokens[tokenHash] = tok
	}
	return nil
}

func (t MemoryTokens) RevokeAllForUser(ctx context.Context, userID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, tok := range t.tokens {
		if tok.userID == userID {
			tok.revoked = true
			t.tokens[h] = tok
		}
	}
	return nil
}

func (t MemoryTokens) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for h, tok := range t.tokens {
		if tok.expiresAt.Before(before) {
			delete(t.tokens, h)
			n++
		}
	}
	return n, nil
}
