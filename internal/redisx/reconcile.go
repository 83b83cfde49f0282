package redisx

import (
	"context"
	"fmt"
)

// Flagger marks reservations that need manual reconciliation (late payment
// success after the sweep released the hold). Operators list these keys.
type Flagger struct {
	RDB Cmdable
}

func (f *Flagger) Flag(ctx context.Context, token, orderID string) error {
	key := fmt.Sprintf(KeyReconcile, token)
	return f.RDB.Set(ctx, key, orderID, TTLReconcile).Err()
}
