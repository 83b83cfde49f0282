package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	statusReserved  = "RESERVED"
	statusCommitted = "COMMITTED"
	statusReleased  = "RELEASED"
)

// PG is the durable ledger: per-variation row locks (FOR UPDATE) taken in
// sorted variation-id order inside one tx, so the check-then-decrement is
// atomic per variation and batches never deadlock each other.
type PG struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

var _ Ledger = (*PG)(nil)

func (l *PG) Reserve(ctx context.Context, items []Item) (string, error) {
	items, err := normalize(items)
	if err != nil {
		return "", err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shortfalls []Shortfall
	for _, it := range items {
		var available int
		err := tx.QueryRow(ctx,
			`SELECT available FROM variation_stock WHERE variation_id=$1 FOR UPDATE`,
			it.VariationID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			shortfalls = append(shortfalls, Shortfall{VariationID: it.VariationID, Required: it.Qty})
			continue
		}
		if err != nil {
			return "", err
		}
		if available < it.Qty {
			shortfalls = append(shortfalls, Shortfall{VariationID: it.VariationID, Required: it.Qty, Available: available})
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE variation_stock SET available = available - $2, reserved = reserved + $2
			WHERE variation_id = $1`, it.VariationID, it.Qty); err != nil {
			return "", err
		}
	}
	if len(shortfalls) > 0 {
		return "", &InsufficientStockError{Shortfalls: shortfalls} // rollback via defer
	}

	token := uuid.NewString()
	expires := time.Now().UTC().Add(l.TTL)
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(token, variation_id, qty, status, expires_at)
			VALUES ($1,$2,$3,$4,$5)`, token, it.VariationID, it.Qty, statusReserved, expires); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (l *PG) Commit(ctx context.Context, token string) error {
	return l.finalize(ctx, token, statusCommitted)
}

func (l *PG) Release(ctx context.Context, token string) error {
	return l.finalize(ctx, token, statusReleased)
}

// finalize drives both terminal operations; they differ only in whether the
// held quantity goes back to available.
func (l *PG) finalize(ctx context.Context, token, target string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT variation_id, qty, status FROM reservations
		WHERE token=$1 ORDER BY variation_id FOR UPDATE`, token)
	if err != nil {
		return err
	}
	var items []Item
	var current string
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.VariationID, &it.Qty, &current); err != nil {
			rows.Close()
			return err
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(items) == 0 {
		return fmt.Errorf("token %s: %w", token, ErrUnknownReservation)
	}
	if current == target {
		return nil // retry of the same terminal op: no-op success
	}
	if current == statusCommitted {
		return fmt.Errorf("token %s: %w", token, ErrReservationCommitted)
	}
	if current == statusReleased {
		return fmt.Errorf("token %s: %w", token, ErrReservationReleased)
	}

	for _, it := range items {
		var q string
		if target == statusCommitted {
			q = `UPDATE variation_stock SET reserved = reserved - $2 WHERE variation_id = $1`
		} else {
			q = `UPDATE variation_stock SET reserved = reserved - $2, available = available + $2 WHERE variation_id = $1`
		}
		if _, err := tx.Exec(ctx, q, it.VariationID, it.Qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status=$2 WHERE token=$1`, token, target); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SweepExpired releases reservations whose expiry passed without a terminal
// op. Release is idempotent, so racing a concurrent commit/release is safe:
// the loser simply skips the token.
func (l *PG) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT DISTINCT token FROM reservations
		WHERE status=$1 AND expires_at <= $2`, statusReserved, now)
	if err != nil {
		return nil, err
	}
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, err
		}
		tokens = append(tokens, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var released []string
	for _, t := range tokens {
		if err := l.Release(ctx, t); err != nil {
			continue // lost the race to a commit or another sweep
		}
		released = append(released, t)
	}
	return released, nil
}

func (l *PG) Restock(ctx context.Context, items []Item) error {
	items, err := normalize(items)
	if err != nil {
		return err
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE variation_stock SET available = available + $2
			WHERE variation_id = $1`, it.VariationID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
