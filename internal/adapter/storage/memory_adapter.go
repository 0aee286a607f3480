package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

// MemoryAdapter keeps inventory and rentals in process. Writes are staged per
// unit and validated against row versions at commit; in pessimistic mode each
// inventory row is also locked from first read until the unit ends.
type MemoryAdapter struct {
	mu        sync.Mutex
	inventory map[int64]domain.Inventory
	rentals   map[int64]domain.Rental
	rowLocks  map[int64]chan struct{}
	lastID    int64
	mode      port.LockMode
}

func NewMemoryAdapter(mode port.LockMode) *MemoryAdapter {
	if mode == "" {
		mode = port.LockOptimistic
	}
	return &MemoryAdapter{
		inventory: make(map[int64]domain.Inventory),
		rentals:   make(map[int64]domain.Rental),
		rowLocks:  make(map[int64]chan struct{}),
		mode:      mode,
	}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:         m,
		readVersions:  make(map[int64]int64),
		invInserts:    make(map[int64]domain.Inventory),
		invWrites:     make(map[int64]domain.Inventory),
		rentalInserts: make(map[int64]domain.Rental),
		rentalWrites:  make(map[int64]domain.Rental),
		held:          make(map[int64]chan struct{}),
	}
	defer tx.unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryAdapter) ScanOverdue(ctx context.Context, asOf time.Time, fn func(domain.Rental) bool) error {
	m.mu.Lock()
	overdue := make([]domain.Rental, 0)
	for _, r := range m.rentals {
		if r.IsOverdue(asOf) {
			overdue = append(overdue, copyRental(r))
		}
	}
	m.mu.Unlock()

	sort.Slice(overdue, func(i, j int) bool {
		if overdue[i].DueDate.Equal(overdue[j].DueDate) {
			return overdue[i].ID < overdue[j].ID
		}
		return overdue[i].DueDate.Before(overdue[j].DueDate)
	})

	for _, r := range overdue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return nil
}

func (m *MemoryAdapter) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.invInserts {
		if _, ok := m.inventory[id]; ok {
			return fmt.Errorf("movie %d: %w", id, domain.ErrAlreadyExists)
		}
	}
	for id, w := range tx.invWrites {
		cur, ok := m.inventory[id]
		if !ok {
			return fmt.Errorf("movie %d: %w", id, domain.ErrNotFound)
		}
		if cur.Version != w.Version {
			return fmt.Errorf("movie %d version %d, expected %d: %w", id, cur.Version, w.Version, domain.ErrConflict)
		}
	}
	for id := range tx.rentalWrites {
		cur, ok := m.rentals[id]
		if !ok {
			return fmt.Errorf("rental %d: %w", id, domain.ErrNotFound)
		}
		if !cur.IsActive() {
			return fmt.Errorf("rental %d no longer active: %w", id, domain.ErrConflict)
		}
	}

	now := time.Now()
	for id, inv := range tx.invInserts {
		inv.UpdatedAt = now
		m.inventory[id] = inv
	}
	for id, inv := range tx.invWrites {
		inv.Version++
		inv.UpdatedAt = now
		m.inventory[id] = inv
	}
	for id, r := range tx.rentalInserts {
		m.rentals[id] = copyRental(r)
	}
	for id, r := range tx.rentalWrites {
		m.rentals[id] = copyRental(r)
	}
	return nil
}

func (m *MemoryAdapter) rowLock(movieID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.rowLocks[movieID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.rowLocks[movieID] = ch
	}
	return ch
}

type memoryTx struct {
	store         *MemoryAdapter
	readVersions  map[int64]int64
	invInserts    map[int64]domain.Inventory
	invWrites     map[int64]domain.Inventory
	rentalInserts map[int64]domain.Rental
	rentalWrites  map[int64]domain.Rental
	held          map[int64]chan struct{}
}

func (t *memoryTx) lock(ctx context.Context, movieID int64) error {
	if t.store.mode != port.LockPessimistic {
		return nil
	}
	if _, ok := t.held[movieID]; ok {
		return nil
	}

	ch := t.store.rowLock(movieID)
	select {
	case ch <- struct{}{}:
		t.held[movieID] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTx) unlock() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *memoryTx) GetInventory(ctx context.Context, movieID int64) (domain.Inventory, error) {
	if inv, ok := t.invInserts[movieID]; ok {
		return inv, nil
	}
	if inv, ok := t.invWrites[movieID]; ok {
		return inv, nil
	}
	if err := t.lock(ctx, movieID); err != nil {
		return domain.Inventory{}, err
	}

	t.store.mu.Lock()
	inv, ok := t.store.inventory[movieID]
	t.store.mu.Unlock()
	if !ok {
		return domain.Inventory{}, fmt.Errorf("movie %d: %w", movieID, domain.ErrNotFound)
	}

	if _, seen := t.readVersions[movieID]; !seen {
		t.readVersions[movieID] = inv.Version
	}
	return inv, nil
}

func (t *memoryTx) InsertInventory(_ context.Context, inv domain.Inventory) error {
	t.store.mu.Lock()
	_, exists := t.store.inventory[inv.ID]
	t.store.mu.Unlock()

	if _, pending := t.invInserts[inv.ID]; exists || pending {
		return fmt.Errorf("movie %d: %w", inv.ID, domain.ErrAlreadyExists)
	}
	t.invInserts[inv.ID] = inv
	return nil
}

func (t *memoryTx) UpdateInventory(_ context.Context, inv domain.Inventory) error {
	if _, ok := t.invInserts[inv.ID]; ok {
		t.invInserts[inv.ID] = inv
		return nil
	}

	t.store.mu.Lock()
	cur, ok := t.store.inventory[inv.ID]
	t.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("movie %d: %w", inv.ID, domain.ErrNotFound)
	}
	if cur.Version != inv.Version {
		return fmt.Errorf("movie %d version %d, expected %d: %w", inv.ID, cur.Version, inv.Version, domain.ErrConflict)
	}

	t.invWrites[inv.ID] = inv
	return nil
}

func (t *memoryTx) InsertRental(_ context.Context, rental domain.Rental) (int64, error) {
	t.store.mu.Lock()
	t.store.lastID++
	id := t.store.lastID
	t.store.mu.Unlock()

	rental.ID = id
	t.rentalInserts[id] = copyRental(rental)
	return id, nil
}

func (t *memoryTx) GetRental(_ context.Context, rentalID int64) (domain.Rental, error) {
	if r, ok := t.rentalWrites[rentalID]; ok {
		return copyRental(r), nil
	}
	if r, ok := t.rentalInserts[rentalID]; ok {
		return copyRental(r), nil
	}

	t.store.mu.Lock()
	r, ok := t.store.rentals[rentalID]
	t.store.mu.Unlock()
	if !ok {
		return domain.Rental{}, fmt.Errorf("rental %d: %w", rentalID, domain.ErrNotFound)
	}
	return copyRental(r), nil
}

func (t *memoryTx) UpdateRental(_ context.Context, rental domain.Rental) error {
	if _, ok := t.rentalInserts[rental.ID]; ok {
		t.rentalInserts[rental.ID] = copyRental(rental)
		return nil
	}

	t.store.mu.Lock()
	cur, ok := t.store.rentals[rental.ID]
	t.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("rental %d: %w", rental.ID, domain.ErrNotFound)
	}
	if !cur.IsActive() {
		return fmt.Errorf("rental %d no longer active: %w", rental.ID, domain.ErrConflict)
	}

	t.rentalWrites[rental.ID] = copyRental(rental)
	return nil
}

func (t *memoryTx) CountActiveRentals(_ context.Context, movieID int64) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// The count must come from the same state as the inventory row read earlier.
	if v, ok := t.readVersions[movieID]; ok {
		if cur := t.store.inventory[movieID]; cur.Version != v {
			return 0, fmt.Errorf("movie %d changed since read: %w", movieID, domain.ErrConflict)
		}
	}

	count := 0
	for id, r := range t.store.rentals {
		if r.MovieID != movieID {
			continue
		}
		if w, ok := t.rentalWrites[id]; ok {
			r = w
		}
		if r.IsActive() {
			count++
		}
	}
	for _, r := range t.rentalInserts {
		if r.MovieID == movieID && r.IsActive() {
			count++
		}
	}
	return count, nil
}

func copyRental(r domain.Rental) domain.Rental {
	if r.ReturnedAt != nil {
		at := *r.ReturnedAt
		r.ReturnedAt = &at
	}
	return r
}

var _ port.Store = (*MemoryAdapter)(nil)
