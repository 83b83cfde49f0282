package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-checkout-orders.git/internal/catalog"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// StaleCatalogError: a cart entry points at a variation the catalog no
// longer knows about.
type StaleCatalogError struct {
	VariationID string
}

func (e *StaleCatalogError) Error() string {
	return fmt.Sprintf("variation %s no longer exists", e.VariationID)
}

type Item struct {
	VariationID string `json:"variation_id"`
	Qty         int    `json:"qty"`
}

type Cart struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

// Catalog is the read-only collaborator supplying current prices.
type Catalog interface {
	GetVariation(ctx context.Context, id string) (catalog.Variation, bool, error)
}

type Builder struct {
	Catalog Catalog
}

// Snapshot freezes the cart into priced line items. Prices are read once,
// here, and never re-read: a later catalog price change must not affect the
// order. The cart itself is left untouched; clearing it after a successful
// checkout is the orchestrator's job.
func (b *Builder) Snapshot(ctx context.Context, c Cart) ([]orders.LineItem, error) {
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}
	out := make([]orders.LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("variation %s: %w", it.VariationID, ErrInvalidQuantity)
		}
		v, ok, err := b.Catalog.GetVariation(ctx, it.VariationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &StaleCatalogError{VariationID: it.VariationID}
		}
		qty := decimal.NewFromInt(int64(it.Qty))
		out = append(out, orders.LineItem{
			VariationID: it.VariationID,
			UnitPrice:   v.UnitPrice,
			Qty:         it.Qty,
			LineTotal:   v.UnitPrice.Mul(qty),
		})
	}
	return out, nil
}

// Subtotal sums line totals of a snapshot.
func Subtotal(items []orders.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal)
	}
	return sum
}
