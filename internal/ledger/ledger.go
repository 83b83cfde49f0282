package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Per-variation stock is mutated only through a Ledger. The invariant
// available + reserved == total physical stock holds across reserve,
// commit, release and restock; available never goes negative.

type Item struct {
	VariationID string
	Qty         int
}

type Ledger interface {
	// Reserve holds stock for every item or for none of them. The returned
	// token identifies the hold until it is committed or released.
	Reserve(ctx context.Context, items []Item) (string, error)
	// Commit turns the hold into a permanent decrement. Committing an
	// already committed token is a no-op success.
	Commit(ctx context.Context, token string) error
	// Release returns held stock to the pool. Releasing an already released
	// token is a no-op success.
	Release(ctx context.Context, token string) error
	// SweepExpired releases every reservation past its expiry that was
	// neither committed nor released, and reports their tokens.
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
	// Restock adds stock back to the available pool. Used by the
	// refund-after-commit flow, which release cannot serve.
	Restock(ctx context.Context, items []Item) error
}

var (
	ErrUnknownReservation   = errors.New("unknown reservation")
	ErrReservationReleased  = errors.New("reservation already released")
	ErrReservationCommitted = errors.New("reservation already committed")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrNoItems              = errors.New("no items to reserve")
)

type Shortfall struct {
	VariationID string `json:"variation_id"`
	Required    int    `json:"required"`
	Available   int    `json:"available"`
}

// InsufficientStockError reports every variation in the batch that could not
// be covered. No stock was touched when this error is returned.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s need %d have %d", s.VariationID, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// normalize merges duplicate variation ids and sorts by id. Sorted order is
// what keeps two overlapping batches from deadlocking on row locks.
func normalize(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	byID := make(map[string]int, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("variation %s: %w", it.VariationID, ErrInvalidQuantity)
		}
		byID[it.VariationID] += it.Qty
	}
	out := make([]Item, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Item{VariationID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariationID < out[j].VariationID })
	return out, nil
}
