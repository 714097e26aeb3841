package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/catalog"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/purchase"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SweetCatalog interface {
	Get(ctx context.Context, id int64) (*catalog.Sweet, error)
	ListSweets(ctx context.Context, f catalog.Filter) ([]catalog.Sweet, error)
	CreateSweet(ctx context.Context, sw *catalog.Sweet) error
	Update(ctx context.Context, sw *catalog.Sweet) error
	Delete(ctx context.Context, id int64) error
}

type Purchaser interface {
	PurchaseOne(ctx context.Context, c purchase.Caller, sweetID int64, quantity *int) (*purchase.Receipt, error)
	Purchase(ctx context.Context, c purchase.Caller, items []purchase.LineItem, opts purchase.Options) (*purchase.Receipt, error)
	Restock(ctx context.Context, c purchase.Caller, sweetID int64, quantity int) (int, error)
}

type SweetsHandler struct {
	Sweets    SweetCatalog
	Purchases Purchaser
	Log       *zap.Logger
}

type PurchaseResp struct {
	Message           string        `json:"message"`
	Order             *orders.Order `json:"order"`
	RemainingQuantity int           `json:"remaining_quantity"`
}

func (h *SweetsHandler) Register(r chi.Router) {
	r.Get("/sweets", h.listSweets)
	r.Post("/sweets", h.createSweet)
	r.Get("/sweets/{id}", h.getSweet)
	r.Put("/sweets/{id}", h.updateSweet)
	r.Delete("/sweets/{id}", h.deleteSweet)
	r.Post("/sweets/{id}/purchase", h.purchase)
	r.Post("/sweets/{id}/restock", h.restock)
}

func (h *SweetsHandler) listSweets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Name:     strings.TrimSpace(q.Get("name")),
		Category: catalog.Category(q.Get("category")),
	}
	for param, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, r, h.Log, apperr.InvalidInput(param+" must be a number"))
			return
		}
		*dst = &d
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Sweets.ListSweets(ctx, f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *SweetsHandler) getSweet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	sw, err := h.Sweets.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (h *SweetsHandler) createSweet(w http.ResponseWriter, r *http.Request) {
	c, err := requireAdmin(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req CreateSweetReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if fields, err := check(&req); err != nil {
		writeValidation(w, fields, err)
		return
	}

	by := c.UserID
	sw := &catalog.Sweet{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Category:    catalog.Category(req.Category),
		CreatedBy:   &by,
	}
	if err := h.Sweets.CreateSweet(r.Context(), sw); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, sw)
}

func (h *SweetsHandler) updateSweet(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req UpdateSweetReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if fields, err := check(&req); err != nil {
		writeValidation(w, fields, err)
		return
	}

	sw, err := h.Sweets.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.Name != nil {
		sw.Name = *req.Name
	}
	if req.Description != nil {
		sw.Description = *req.Description
	}
	if req.Price != nil {
		sw.Price = *req.Price
	}
	if req.Category != nil {
		sw.Category = catalog.Category(*req.Category)
	}
	if err := h.Sweets.Update(r.Context(), sw); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (h *SweetsHandler) deleteSweet(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if err := h.Sweets.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SweetsHandler) purchase(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req PurchaseReq
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rc, err := h.Purchases.PurchaseOne(ctx, c, id, req.quantity())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResp{
		Message:           "Purchase successful",
		Order:             rc.Order,
		RemainingQuantity: rc.RemainingQuantity,
	})
}

func (h *SweetsHandler) restock(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var req RestockReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.Quantity > catalog.MaxQuantity {
		writeError(w, r, h.Log, apperr.InvalidQuantity(id, req.Quantity))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// the coordinator owns the admin check
	if _, err := h.Purchases.Restock(ctx, c, id, req.Quantity); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	sw, err := h.Sweets.Get(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}
