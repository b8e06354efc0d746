package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/card-service/internal/models"
)

// memRow is one card with its exclusive row lock. The lock is a buffered
// channel so that waiting can be abandoned on timeout or cancellation.
type memRow struct {
	lock    chan struct{}
	card    models.Card
	deleted bool
}

// Memory is an in-process store with the same transaction and row-lock
// contract as Repository. Committed state is guarded by mu; row locks
// serialize writers across transactions.
type Memory struct {
	mu          sync.RWMutex
	lockTimeout time.Duration
	nextUserID  int64
	nextCardID  int64
	users       map[int64]models.User
	cards       map[int64]*memRow

	// failCommit, when set, makes the next commit fail; used by tests to
	// check that nothing is applied on a failed commit
	failCommit error
}

// NewMemory creates an empty store
func NewMemory(lockTimeout time.Duration) *Memory {
	return &Memory{
		lockTimeout: lockTimeout,
		users:       make(map[int64]models.User),
		cards:       make(map[int64]*memRow),
	}
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || u.PhoneNumber == user.PhoneNumber {
			return models.ErrUserExists
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now()
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) UserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (m *Memory) UpdateUserRole(_ context.Context, id int64, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	u.Role = role
	m.users[id] = u
	return nil
}

// DeleteUser locks the user's cards in ascending id order, then removes
// them together with the user
func (m *Memory) DeleteUser(ctx context.Context, id int64) ([]int64, error) {
	for {
		deleted, retry, err := m.deleteUser(ctx, id)
		if !retry {
			return deleted, err
		}
	}
}

// deleteUser asks for a retry when a card was issued to the user after
// its cards were locked
func (m *Memory) deleteUser(ctx context.Context, id int64) ([]int64, bool, error) {
	ids, ok := m.ownedCardIDs(id)
	if !ok {
		return nil, false, models.ErrUserNotFound
	}

	tx := m.begin()
	defer tx.release()
	for _, cid := range ids {
		if _, err := tx.LockCard(ctx, cid); err != nil && !errors.Is(err, models.ErrCardNotFound) {
			return nil, false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return nil, false, models.ErrUserNotFound
	}
	for cid, row := range m.cards {
		if _, held := tx.held[cid]; row.card.OwnerID == id && !held {
			return nil, true, nil
		}
	}

	var deleted []int64
	for _, cid := range ids {
		if row, held := tx.held[cid]; held {
			row.deleted = true
			delete(m.cards, cid)
			deleted = append(deleted, cid)
		}
	}
	delete(m.users, id)
	return deleted, false, nil
}

func (m *Memory) ownedCardIDs(userID int64) ([]int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, false
	}
	var ids []int64
	for cid, row := range m.cards {
		if row.card.OwnerID == userID {
			ids = append(ids, cid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

func (m *Memory) CreateCard(_ context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[card.OwnerID]; !ok {
		return models.ErrUserNotFound
	}
	m.nextCardID++
	card.ID = m.nextCardID
	m.cards[card.ID] = &memRow{lock: make(chan struct{}, 1), card: *card}
	return nil
}

func (m *Memory) CardByID(_ context.Context, id int64) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.cards[id]
	if !ok {
		return nil, models.ErrCardNotFound
	}
	card := row.card
	return &card, nil
}

func (m *Memory) ListCards(_ context.Context, filter models.CardFilter) (*models.CardPage, error) {
	m.mu.RLock()
	var matched []models.Card
	for _, row := range m.cards {
		c := row.card
		if filter.OwnerID != 0 && c.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		matched = append(matched, c)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	page := &models.CardPage{Page: filter.Page, Size: filter.Size, Total: len(matched), Cards: []models.Card{}}
	start := filter.Page * filter.Size
	if start < len(matched) {
		end := start + filter.Size
		if end > len(matched) {
			end = len(matched)
		}
		page.Cards = append(page.Cards, matched[start:end]...)
	}
	return page, nil
}

func (m *Memory) ExpiredCardIDs(_ context.Context, today time.Time) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, row := range m.cards {
		if row.card.ExpirationDate.Before(today) && row.card.Status == models.CardStatusActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) DeleteCard(ctx context.Context, id int64) error {
	tx := m.begin()
	defer tx.release()
	if _, err := tx.LockCard(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tx.held[id].deleted = true
	delete(m.cards, id)
	return nil
}

// WithinTx runs fn with a transaction. Writes are staged and applied only
// if fn returns nil; every row lock is released on return.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx CardTx) error) error {
	tx := m.begin()
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// FailNextCommit makes the next transaction commit fail with err
func (m *Memory) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

type memTx struct {
	m      *Memory
	held   map[int64]*memRow
	staged map[int64]models.Card
}

func (m *Memory) begin() *memTx {
	return &memTx{m: m, held: make(map[int64]*memRow), staged: make(map[int64]models.Card)}
}

func (t *memTx) LockCard(ctx context.Context, id int64) (*models.Card, error) {
	if _, ok := t.held[id]; ok {
		card := t.staged[id]
		return &card, nil
	}

	t.m.mu.RLock()
	row, ok := t.m.cards[id]
	t.m.mu.RUnlock()
	if !ok {
		return nil, models.ErrCardNotFound
	}

	if err := t.m.acquire(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to lock card %d: %w", id, err)
	}

	t.m.mu.RLock()
	deleted := row.deleted
	card := row.card
	t.m.mu.RUnlock()
	if deleted {
		<-row.lock
		return nil, models.ErrCardNotFound
	}

	t.held[id] = row
	t.staged[id] = card
	return &card, nil
}

func (t *memTx) UpdateCard(_ context.Context, card *models.Card) error {
	if _, ok := t.held[card.ID]; !ok {
		return fmt.Errorf("card %d is not locked by this transaction", card.ID)
	}
	t.staged[card.ID] = *card
	return nil
}

func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.failCommit; err != nil {
		t.m.failCommit = nil
		return fmt.Errorf("error committing transaction: %w", err)
	}
	for id, card := range t.staged {
		t.held[id].card = card
	}
	return nil
}

func (t *memTx) release() {
	for _, row := range t.held {
		<-row.lock
	}
	t.held = nil
}

func (m *Memory) acquire(ctx context.Context, row *memRow) error {
	var timeout <-chan time.Time
	if m.lockTimeout > 0 {
		timer := time.NewTimer(m.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case row.lock <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: lock wait exceeded %v", models.ErrConflict, m.lockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
