package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	mu        sync.Mutex
	available int
	reserved  int
}

type memReservation struct {
	items     []Item
	status    string
	expiresAt time.Time
}

// Memory is the in-process ledger. Each variation carries its own mutex;
// batches acquire them in sorted id order, mirroring the row-lock ordering
// of the PG ledger. Reservations and the entry map itself are guarded by mu.
type Memory struct {
	mu    sync.Mutex
	stock map[string]*memEntry
	res   map[string]*memReservation
	ttl   time.Duration

	// Now is a test hook; nil means time.Now.
	Now func() time.Time
}

var _ Ledger = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		stock: make(map[string]*memEntry),
		res:   make(map[string]*memReservation),
		ttl:   ttl,
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// SetStock seeds or resets a variation's available stock.
func (m *Memory) SetStock(variationID string, available int) {
	m.mu.Lock()
	e, ok := m.stock[variationID]
	if !ok {
		e = &memEntry{}
		m.stock[variationID] = e
	}
	m.mu.Unlock() // never hold the map lock while taking an entry lock

	e.mu.Lock()
	e.available = available
	e.mu.Unlock()
}

// Stock reports (available, reserved) for a variation.
func (m *Memory) Stock(variationID string) (int, int) {
	m.mu.Lock()
	e, ok := m.stock[variationID]
	m.mu.Unlock()
	if !ok {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available, e.reserved
}

func (m *Memory) entries(items []Item) []*memEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*memEntry, len(items))
	for i, it := range items {
		e, ok := m.stock[it.VariationID]
		if !ok {
			e = &memEntry{}
			m.stock[it.VariationID] = e
		}
		out[i] = e
	}
	return out
}

func (m *Memory) Reserve(ctx context.Context, items []Item) (string, error) {
	items, err := normalize(items)
	if err != nil {
		return "", err
	}

	entries := m.entries(items)
	for _, e := range entries { // sorted by normalize
		e.mu.Lock()
	}
	defer func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}()

	var shortfalls []Shortfall
	for i, it := range items {
		if entries[i].available < it.Qty {
			shortfalls = append(shortfalls, Shortfall{
				VariationID: it.VariationID, Required: it.Qty, Available: entries[i].available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return "", &InsufficientStockError{Shortfalls: shortfalls}
	}

	for i, it := range items {
		entries[i].available -= it.Qty
		entries[i].reserved += it.Qty
	}

	token := uuid.NewString()
	m.mu.Lock()
	m.res[token] = &memReservation{
		items:     items,
		status:    statusReserved,
		expiresAt: m.now().Add(m.ttl),
	}
	m.mu.Unlock()
	return token, nil
}

func (m *Memory) Commit(ctx context.Context, token string) error {
	return m.finalize(token, statusCommitted)
}

func (m *Memory) Release(ctx context.Context, token string) error {
	return m.finalize(token, statusReleased)
}

func (m *Memory) finalize(token, target string) error {
	// flip status first, under mu, so exactly one caller applies the stock
	// movement for this token
	m.mu.Lock()
	r, ok := m.res[token]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("token %s: %w", token, ErrUnknownReservation)
	}
	switch {
	case r.status == target:
		m.mu.Unlock()
		return nil
	case r.status == statusCommitted:
		m.mu.Unlock()
		return fmt.Errorf("token %s: %w", token, ErrReservationCommitted)
	case r.status == statusReleased:
		m.mu.Unlock()
		return fmt.Errorf("token %s: %w", token, ErrReservationReleased)
	}
	r.status = target
	m.mu.Unlock()

	entries := m.entries(r.items)
	for _, e := range entries {
		e.mu.Lock()
	}
	for i, it := range r.items {
		entries[i].reserved -= it.Qty
		if target == statusReleased {
			entries[i].available += it.Qty
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}
	return nil
}

func (m *Memory) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	var expired []string
	for token, r := range m.res {
		if r.status == statusReserved && !r.expiresAt.After(now) {
			expired = append(expired, token)
		}
	}
	m.mu.Unlock()

	var released []string
	for _, t := range expired {
		if err := m.Release(ctx, t); err != nil {
			continue // finalized concurrently
		}
		released = append(released, t)
	}
	return released, nil
}

func (m *Memory) Restock(ctx context.Context, items []Item) error {
	items, err := normalize(items)
	if err != nil {
		return err
	}
	entries := m.entries(items)
	for i, it := range items {
		entries[i].mu.Lock()
		entries[i].available += it.Qty
		entries[i].mu.Unlock()
	}
	return nil
}
