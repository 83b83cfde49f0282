package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("order not found")
	ErrStaleStatus = errors.New("order status changed concurrently")
)

type Repo struct{ DB *pgxpool.Pool }

// Create inserts the order and its line items in one tx. Line items have no
// identity of their own; they live and die with the order row.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, subtotal, shipping_cost, tax, total,
		                   fulfillment_status, payment_status, reservation_token,
		                   created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, o.ID, o.UserID, o.Subtotal, o.ShippingCost, o.Tax, o.Total,
		string(o.FulfillmentStatus), string(o.PaymentStatus), o.ReservationToken,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, variation_id, qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, o.ID, i, it.VariationID, it.Qty, it.UnitPrice, it.LineTotal)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, user_id, subtotal, shipping_cost, tax, total,
		       fulfillment_status, payment_status, reservation_token,
		       created_at, updated_at
		FROM orders WHERE id=$1`, orderID)
	return r.scanOrder(ctx, row)
}

// GetByReservation resolves the order a payment result belongs to; results
// are keyed by reservation token, not order id.
func (r *Repo) GetByReservation(ctx context.Context, token string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, user_id, subtotal, shipping_cost, tax, total,
		       fulfillment_status, payment_status, reservation_token,
		       created_at, updated_at
		FROM orders WHERE reservation_token=$1`, token)
	return r.scanOrder(ctx, row)
}

func (r *Repo) scanOrder(ctx context.Context, row pgx.Row) (*Order, error) {
	var o Order
	var fs, ps string
	err := row.Scan(&o.ID, &o.UserID, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total,
		&fs, &ps, &o.ReservationToken, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.FulfillmentStatus = FulfillmentStatus(fs)
	o.PaymentStatus = PaymentStatus(ps)

	rows, err := r.DB.Query(ctx, `
		SELECT variation_id, qty, unit_price, line_total
		FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.VariationID, &it.Qty, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// SaveFulfillment persists a transition already validated and applied on the
// in-memory order. The WHERE guard makes it a compare-and-set: losing a race
// to a concurrent transition surfaces as ErrStaleStatus instead of silently
// overwriting.
func (r *Repo) SaveFulfillment(ctx context.Context, o *Order, from FulfillmentStatus) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET fulfillment_status=$1, updated_at=$2
		WHERE id=$3 AND fulfillment_status=$4
	`, string(o.FulfillmentStatus), o.UpdatedAt, o.ID, string(from))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("fulfillment %s -> %s: %w", from, o.FulfillmentStatus, ErrStaleStatus)
	}
	return nil
}

func (r *Repo) SavePayment(ctx context.Context, o *Order, from PaymentStatus) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$1, updated_at=$2
		WHERE id=$3 AND payment_status=$4
	`, string(o.PaymentStatus), o.UpdatedAt, o.ID, string(from))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("payment %s -> %s: %w", from, o.PaymentStatus, ErrStaleStatus)
	}
	return nil
}
