package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders.git/internal/cart"
	"github.com/ariefcatur/go-checkout-orders.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders.git/internal/ledger"
	"github.com/ariefcatur/go-checkout-orders.git/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/ariefcatur/go-checkout-orders.git/internal/redisx"
)

// Identity is resolved upstream; the gateway forwards who the caller is.
const (
	HeaderUserID      = "X-User-Id"
	HeaderUserRole    = "X-User-Role"
	HeaderIdempotency = "Idempotency-Key"

	RoleAdmin = "admin"
)

type CheckoutHandler struct {
	Orch    *checkout.Orchestrator
	Redis   redisx.Cmdable
	Metrics *metrics.CheckoutMetrics
	Service string
}

type CheckoutReq struct {
	Items        []cart.Item     `json:"items"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
}

type WebhookReq struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"` // paid | declined
	Reason    string `json:"reason,omitempty"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.postCheckout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/webhooks/payment-result", h.paymentWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": msg})
}

func (h *CheckoutHandler) observe(handler string, start time.Time) {
	if h.Metrics != nil {
		h.Metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (h *CheckoutHandler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (h *CheckoutHandler) postCheckout(w http.ResponseWriter, r *http.Request) {
	defer h.observe("checkout", time.Now())

	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeErr(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency: a retried checkout returns the order the first
	// attempt created instead of reserving twice.
	idemKey := ""
	if k := strings.TrimSpace(r.Header.Get(HeaderIdempotency)); k != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, userID, k)
		if orderID, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && orderID != "" {
			o, err := h.Orch.Orders.Get(ctx, orderID)
			if err == nil {
				writeJSON(w, http.StatusOK, o)
				return
			}
		}
	}

	o, err := h.Orch.Checkout(ctx, userID, cart.Cart{UserID: userID, Items: req.Items}, req.ShippingCost, req.Tax)
	if err != nil {
		h.writeCheckoutErr(w, o, err)
		return
	}
	h.countCheckout("accepted")

	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheOrder(ctx, o)

	// async payment: the order goes out pending, step 6 runs when the
	// payment result arrives
	writeJSON(w, http.StatusAccepted, o)
}

func (h *CheckoutHandler) writeCheckoutErr(w http.ResponseWriter, o *orders.Order, err error) {
	var stale *cart.StaleCatalogError
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.Is(err, cart.ErrEmptyCart):
		h.countCheckout("empty_cart")
		writeErr(w, http.StatusBadRequest, "EMPTY_CART", err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidQuantity):
		h.countCheckout("invalid_quantity")
		writeErr(w, http.StatusBadRequest, "INVALID_QUANTITY", err.Error())
	case errors.As(err, &stale):
		h.countCheckout("stale_variation")
		writeErr(w, http.StatusBadRequest, "STALE_VARIATION", err.Error())
	case errors.As(err, &insufficient):
		h.countCheckout("insufficient_stock")
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "INSUFFICIENT_STOCK",
			"details": insufficient.Shortfalls,
		})
	default:
		h.countCheckout("error")
		if o != nil {
			// order exists but the charge request failed; it is already
			// compensated into a final state
			writeJSON(w, http.StatusBadGateway, o)
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_order", time.Now())

	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_ID", "missing id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) try cache: the blob carries the whole order so the ownership check
	// works without the DB
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if b, err := h.Redis.Get(ctx, key).Bytes(); err == nil {
		var cached orders.Order
		if json.Unmarshal(b, &cached) == nil && cached.ID == orderID {
			if !h.mayAccess(r, &cached) {
				writeErr(w, http.StatusForbidden, "FORBIDDEN", "not your order")
				return
			}
			writeJSON(w, http.StatusOK, &cached)
			return
		}
	}

	// 2) fall back to the DB and repopulate
	o, err := h.Orch.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "NOT_FOUND", "order not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	if !h.mayAccess(r, o) {
		writeErr(w, http.StatusForbidden, "FORBIDDEN", "not your order")
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *CheckoutHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	defer h.observe("cancel_order", time.Now())

	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orch.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "NOT_FOUND", "order not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	if !h.mayAccess(r, o) {
		writeErr(w, http.StatusForbidden, "FORBIDDEN", "not your order")
		return
	}

	o, err = h.Orch.Cancel(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrIllegalTransition) {
			writeErr(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *CheckoutHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer h.observe("payment_webhook", time.Now())

	var req WebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Reference == "" || req.Outcome == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "reference and outcome required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// dedup deliveries the same way the topic consumer does
	if req.EventID != "" {
		dkey := fmt.Sprintf(redisx.KeyDedup, h.Service, req.EventID)
		if ok, _ := redisx.Exists(ctx, h.Redis, dkey); ok {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		_ = h.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	o, err := h.Orch.HandlePaymentResult(ctx, checkout.PaymentResult{
		Reference: req.Reference,
		Outcome:   req.Outcome,
		Reason:    req.Reason,
		TraceID:   r.Header.Get("X-Request-Id"),
	})
	switch {
	case err == nil:
		h.countPayment(req.Outcome)
		h.cacheOrder(ctx, o)
		writeJSON(w, http.StatusOK, o)
	case errors.Is(err, checkout.ErrReconciliationRequired):
		h.countPayment("reconcile")
		writeJSON(w, http.StatusOK, map[string]string{"status": "flagged_for_reconciliation"})
	case errors.Is(err, ledger.ErrUnknownReservation):
		writeErr(w, http.StatusNotFound, "UNKNOWN_REFERENCE", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func (h *CheckoutHandler) countPayment(outcome string) {
	if h.Metrics != nil {
		h.Metrics.PaymentResults.WithLabelValues(outcome).Inc()
	}
}

func (h *CheckoutHandler) mayAccess(r *http.Request, o *orders.Order) bool {
	if r.Header.Get(HeaderUserRole) == RoleAdmin {
		return true
	}
	return r.Header.Get(HeaderUserID) == o.UserID
}

// cacheOrder keeps the latest serialized order in redis; getOrder serves
// reads from it before touching the DB. TTL bounds staleness from
// sweeper-side updates.
func (h *CheckoutHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	if o == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
