package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReserveAllOrNothing(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetStock("a", 10)
	m.SetStock("b", 1)

	_, err := m.Reserve(context.Background(), []Item{
		{VariationID: "a", Qty: 5},
		{VariationID: "b", Qty: 3},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortfalls, 1)
	require.Equal(t, "b", insufficient.Shortfalls[0].VariationID)
	require.Equal(t, 3, insufficient.Shortfalls[0].Required)
	require.Equal(t, 1, insufficient.Shortfalls[0].Available)

	// nothing touched, including the variation that had enough
	avail, reserved := m.Stock("a")
	require.Equal(t, 10, avail)
	require.Equal(t, 0, reserved)
}

func TestReserveUnknownVariation(t *testing.T) {
	m := NewMemory(time.Minute)
	_, err := m.Reserve(context.Background(), []Item{{VariationID: "ghost", Qty: 1}})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
}

func TestReserveRejectsBadInput(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetStock("a", 10)

	_, err := m.Reserve(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoItems)

	_, err = m.Reserve(context.Background(), []Item{{VariationID: "a", Qty: 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCommitAndReleaseIdempotence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	m.SetStock("a", 5)

	token, err := m.Reserve(ctx, []Item{{VariationID: "a", Qty: 3}})
	require.NoError(t, err)

	avail, reserved := m.Stock("a")
	require.Equal(t, 2, avail)
	require.Equal(t, 3, reserved)

	require.NoError(t, m.Commit(ctx, token))
	avail, reserved = m.Stock("a")
	require.Equal(t, 2, avail)
	require.Equal(t, 0, reserved)

	// commit retry: no-op success, no double decrement
	require.NoError(t, m.Commit(ctx, token))
	avail, reserved = m.Stock("a")
	require.Equal(t, 2, avail)
	require.Equal(t, 0, reserved)

	// release after commit: rejected, no stock change
	err = m.Release(ctx, token)
	require.ErrorIs(t, err, ErrReservationCommitted)
	avail, reserved = m.Stock("a")
	require.Equal(t, 2, avail)
	require.Equal(t, 0, reserved)
}

func TestReleaseRestoresStock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	m.SetStock("a", 5)

	token, err := m.Reserve(ctx, []Item{{VariationID: "a", Qty: 3}})
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, token))

	avail, reserved := m.Stock("a")
	require.Equal(t, 5, avail)
	require.Equal(t, 0, reserved)

	// release retry is a no-op, commit afterwards is rejected
	require.NoError(t, m.Release(ctx, token))
	require.ErrorIs(t, m.Commit(ctx, token), ErrReservationReleased)
	avail, _ = m.Stock("a")
	require.Equal(t, 5, avail)
}

func TestUnknownToken(t *testing.T) {
	m := NewMemory(time.Minute)
	require.ErrorIs(t, m.Commit(context.Background(), "nope"), ErrUnknownReservation)
	require.ErrorIs(t, m.Release(context.Background(), "nope"), ErrUnknownReservation)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	const stock = 50
	m.SetStock("hot", stock)

	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Reserve(ctx, []Item{{VariationID: "hot", Qty: 3}}); err == nil {
				mu.Lock()
				granted += 3
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, granted, stock)
	avail, reserved := m.Stock("hot")
	require.Equal(t, stock-granted, avail)
	require.Equal(t, granted, reserved)
}

func TestTwoCheckoutsContendingOverFiveUnits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	m.SetStock("x", 5)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := m.Reserve(ctx, []Item{{VariationID: "x", Qty: 3}})
			results <- err
		}()
	}
	var failures, successes int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			var insufficient *InsufficientStockError
			require.ErrorAs(t, err, &insufficient)
			failures++
		} else {
			successes++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)

	avail, reserved := m.Stock("x")
	require.Equal(t, 2, avail)
	require.Equal(t, 3, reserved)
}

func TestOverlappingBatchesDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	m.SetStock("a", 1000)
	m.SetStock("b", 1000)
	m.SetStock("c", 1000)

	// batches share variations in different orders; sorted lock acquisition
	// must keep them from deadlocking
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Reserve(ctx, []Item{{"a", 1}, {"b", 1}, {"c", 1}})
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Reserve(ctx, []Item{{"c", 1}, {"b", 1}, {"a", 1}})
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reserve batches deadlocked")
	}
}

func TestSweepReleasesExpiredExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10 * time.Minute)
	base := time.Now().UTC()
	m.Now = func() time.Time { return base }
	m.SetStock("a", 5)

	token, err := m.Reserve(ctx, []Item{{VariationID: "a", Qty: 2}})
	require.NoError(t, err)

	// not yet expired
	released, err := m.SweepExpired(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Empty(t, released)

	released, err = m.SweepExpired(ctx, base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{token}, released)

	avail, reserved := m.Stock("a")
	require.Equal(t, 5, avail)
	require.Equal(t, 0, reserved)

	// second sweep finds nothing to do
	released, err = m.SweepExpired(ctx, base.Add(12*time.Minute))
	require.NoError(t, err)
	require.Empty(t, released)

	// a committed reservation is never swept
	token2, err := m.Reserve(ctx, []Item{{VariationID: "a", Qty: 1}})
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, token2))
	released, err = m.SweepExpired(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, released)
}

func TestRestock(t *testing.T) {
	m := NewMemory(time.Minute)
	m.SetStock("a", 2)
	require.NoError(t, m.Restock(context.Background(), []Item{{VariationID: "a", Qty: 3}}))
	avail, _ := m.Stock("a")
	require.Equal(t, 5, avail)
}

func TestDuplicateItemsMerged(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	m.SetStock("a", 5)

	token, err := m.Reserve(ctx, []Item{
		{VariationID: "a", Qty: 2},
		{VariationID: "a", Qty: 2},
	})
	require.NoError(t, err)
	avail, reserved := m.Stock("a")
	require.Equal(t, 1, avail)
	require.Equal(t, 4, reserved)

	require.NoError(t, m.Release(ctx, token))
	avail, _ = m.Stock("a")
	require.Equal(t, 5, avail)
}

func TestInsufficientErrorMessage(t *testing.T) {
	err := &InsufficientStockError{Shortfalls: []Shortfall{{VariationID: "v", Required: 3, Available: 1}}}
	require.Contains(t, err.Error(), "v need 3 have 1")
	require.True(t, errors.As(error(err), new(*InsufficientStockError)))
}
