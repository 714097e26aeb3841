package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/purchase"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]orders.Order, error)
	ListAll(ctx context.Context) ([]orders.Order, error)
}

type OrdersHandler struct {
	Orders    OrderReader
	Purchases Purchaser
	Log       *zap.Logger
}

type CreateOrderResp struct {
	Order      *orders.Order `json:"order"`
	Remaining  map[int64]int `json:"remaining"`
	Idempotent bool          `json:"idempotent"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/my", h.myOrders)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req CreateOrderReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if fields, err := check(&req); err != nil {
		writeValidation(w, fields, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if len(key) > purchase.MaxExternalIDLen {
		writeError(w, r, h.Log, apperr.InvalidInput(
			fmt.Sprintf("Idempotency-Key must be at most %d characters", purchase.MaxExternalIDLen)))
		return
	}

	items := make([]purchase.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, purchase.LineItem{SweetID: it.SweetID, Quantity: it.Quantity})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rc, err := h.Purchases.Purchase(ctx, c, items, purchase.Options{ExternalID: key})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	code := http.StatusCreated
	if rc.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: rc.Order, Remaining: rc.Remaining, Idempotent: rc.Replayed})
}

// listOrders returns every order to an administrator and the caller's own
// orders to anyone else.
func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var list []orders.Order
	if c.IsAdmin {
		list, err = h.Orders.ListAll(ctx)
	} else {
		list, err = h.Orders.ListByUser(ctx, c.UserID)
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListByUser(ctx, c.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	// someone else's order looks the same as a missing one
	if o.UserID != c.UserID && !c.IsAdmin {
		writeError(w, r, h.Log, apperr.NotFound("order", orderID))
		return
	}
	writeJSON(w, http.StatusOK, o)
}
