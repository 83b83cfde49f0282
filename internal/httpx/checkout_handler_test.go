package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-orders.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/ariefcatur/go-checkout-orders.git/internal/redisx"
)

type stubRedis struct {
	mu sync.Mutex
	m  map[string]string
}

func newStubRedis() *stubRedis { return &stubRedis{m: map[string]string{}} }

func (s *stubRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (s *stubRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		s.m[key] = string(v)
	case string:
		s.m[key] = v
	default:
		s.m[key] = fmt.Sprint(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (s *stubRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.m[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (s *stubRedis) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

// readOnlyStore counts DB reads so tests can assert the cache short-circuits
// them.
type readOnlyStore struct {
	mu   sync.Mutex
	gets int
	byID map[string]*orders.Order
}

func (s *readOnlyStore) Create(ctx context.Context, o *orders.Order) error { return nil }

func (s *readOnlyStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	o, ok := s.byID[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *readOnlyStore) GetByReservation(ctx context.Context, token string) (*orders.Order, error) {
	return nil, orders.ErrNotFound
}

func (s *readOnlyStore) SaveFulfillment(ctx context.Context, o *orders.Order, from orders.FulfillmentStatus) error {
	return nil
}

func (s *readOnlyStore) SavePayment(ctx context.Context, o *orders.Order, from orders.PaymentStatus) error {
	return nil
}

func (s *readOnlyStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func testOrder(id, userID string) *orders.Order {
	return &orders.Order{
		ID:                id,
		UserID:            userID,
		Total:             decimal.RequireFromString("42.00"),
		FulfillmentStatus: orders.FulfillmentPending,
		PaymentStatus:     orders.PaymentPending,
		ReservationToken:  "tok-" + id,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
}

func newTestHandler(store *readOnlyStore, rdb *stubRedis) (*CheckoutHandler, *chi.Mux) {
	h := &CheckoutHandler{
		Orch:    &checkout.Orchestrator{Orders: store},
		Redis:   rdb,
		Service: "api",
	}
	r := chi.NewRouter()
	h.Register(r)
	return h, r
}

func TestGetOrderServedFromCache(t *testing.T) {
	store := &readOnlyStore{byID: map[string]*orders.Order{}}
	rdb := newStubRedis()
	_, router := newTestHandler(store, rdb)

	o := testOrder("ord-1", "user-1")
	b, err := json.Marshal(o)
	require.NoError(t, err)
	rdb.Set(context.Background(), fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req.Header.Set(HeaderUserID, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "ord-1", got.ID)
	require.Equal(t, 0, store.getCount(), "a cache hit must not touch the DB")
}

func TestGetOrderCacheMissFallsBackAndRepopulates(t *testing.T) {
	o := testOrder("ord-2", "user-2")
	store := &readOnlyStore{byID: map[string]*orders.Order{o.ID: o}}
	rdb := newStubRedis()
	_, router := newTestHandler(store, rdb)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-2", nil)
	req.Header.Set(HeaderUserID, "user-2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, store.getCount())
	require.True(t, rdb.has(fmt.Sprintf(redisx.KeyOrderStatus, o.ID)), "miss must repopulate the cache")
}

func TestGetOrderCacheHitStillChecksOwnership(t *testing.T) {
	store := &readOnlyStore{byID: map[string]*orders.Order{}}
	rdb := newStubRedis()
	_, router := newTestHandler(store, rdb)

	o := testOrder("ord-3", "user-3")
	b, err := json.Marshal(o)
	require.NoError(t, err)
	rdb.Set(context.Background(), fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-3", nil)
	req.Header.Set(HeaderUserID, "somebody-else")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 0, store.getCount())
}

func TestCheckoutIdempotencyFastPath(t *testing.T) {
	o := testOrder("ord-4", "user-4")
	store := &readOnlyStore{byID: map[string]*orders.Order{o.ID: o}}
	rdb := newStubRedis()
	_, router := newTestHandler(store, rdb)

	rdb.Set(context.Background(), fmt.Sprintf(redisx.KeyIdemCheckout, "user-4", "retry-key"), o.ID, redisx.TTLIdempotency)

	body := bytes.NewBufferString(`{"items":[{"variation_id":"var-x","qty":1}],"shipping_cost":"2.00","tax":"1.00"}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout", body)
	req.Header.Set(HeaderUserID, "user-4")
	req.Header.Set(HeaderIdempotency, "retry-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// the retry returns the order the first attempt created, no new reserve
	require.Equal(t, http.StatusOK, rec.Code)
	var got orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, o.ID, got.ID)
}
