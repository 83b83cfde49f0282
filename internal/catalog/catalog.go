package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Variation is a copied value, never a live reference into catalog storage.
type Variation struct {
	ID        string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
}

// PG reads variation records owned by the catalog service's schema. The
// checkout core only ever consults it, never writes.
type PG struct{ DB *pgxpool.Pool }

func (c *PG) GetVariation(ctx context.Context, id string) (Variation, bool, error) {
	var v Variation
	err := c.DB.QueryRow(ctx,
		`SELECT id, sku, name, price FROM variations WHERE id=$1`, id).
		Scan(&v.ID, &v.SKU, &v.Name, &v.UnitPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variation{}, false, nil
	}
	if err != nil {
		return Variation{}, false, err
	}
	return v, true, nil
}
