package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	Checkout(ctx context.Context, req orders.CheckoutRequest) (*orders.Order, bool, error)
	Order(ctx context.Context, id string, actor orders.Actor) (*orders.Order, error)
	Cancel(ctx context.Context, id string, actor orders.Actor) (*orders.Order, error)
	Advance(ctx context.Context, id string, next orders.Status, actor orders.Actor) (*orders.Order, error)
}

type VariantLister interface {
	Variants(ctx context.Context) ([]orders.Variant, error)
}

type OrdersHandler struct {
	Orders   OrderService
	Variants VariantLister
	// Redis holds the idempotency fast path. The database stays the source
	// of truth, so nil just disables the shortcut.
	Redis redis.Cmdable
	Log   *zap.Logger
}

type createOrderReq struct {
	DeliveryType  string `json:"delivery_type"`
	PaymentMethod string `json:"payment_method"`
}

type advanceReq struct {
	Status orders.Status `json:"status"`
}

type orderItemResp struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type adjustmentResp struct {
	Kind   string `json:"kind"`
	Amount string `json:"amount"`
}

type orderResp struct {
	ID            string           `json:"id"`
	OrderNumber   string           `json:"order_number"`
	CustomerID    string           `json:"customer_id"`
	CustomerName  string           `json:"customer_name,omitempty"`
	Status        orders.Status    `json:"status"`
	DeliveryType  string           `json:"delivery_type"`
	PaymentMethod string           `json:"payment_method"`
	Subtotal      string           `json:"subtotal"`
	Adjustments   []adjustmentResp `json:"adjustments"`
	Total         string           `json:"total"`
	Items         []orderItemResp  `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CancelledAt   *time.Time       `json:"cancelled_at,omitempty"`
	Replayed      bool             `json:"replayed,omitempty"`
}

func toOrderResp(o *orders.Order) orderResp {
	out := orderResp{
		ID:            o.ID,
		OrderNumber:   o.Number,
		CustomerID:    o.CustomerID,
		CustomerName:  o.CustomerName,
		Status:        o.Status,
		DeliveryType:  o.DeliveryType,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      o.Subtotal.StringFixed(2),
		Adjustments:   make([]adjustmentResp, 0, len(o.Adjustments)),
		Total:         o.Total.StringFixed(2),
		Items:         make([]orderItemResp, 0, len(o.Items)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		CancelledAt:   o.CancelledAt,
	}
	for _, a := range o.Adjustments {
		out.Adjustments = append(out.Adjustments, adjustmentResp{Kind: a.Kind, Amount: a.Amount.StringFixed(2)})
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemResp{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal.StringFixed(2),
		})
	}
	return out
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.With(RequireAdmin).Post("/orders/{id}/status", h.advanceOrder)
	})
	if h.Variants != nil {
		r.Get("/variants", h.listVariants)
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, CodeValidation, "invalid json", nil)
		return
	}
	idem := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast path for retried requests; the store check inside Checkout still
	// guards the race
	if idem != "" && h.Redis != nil {
		if id, err := h.Redis.Get(ctx, redisx.IdemOrderCreate(actor.ID, idem)).Result(); err == nil && id != "" {
			if o, err := h.Orders.Order(ctx, id, actor); err == nil {
				resp := toOrderResp(o)
				resp.Replayed = true
				writeData(w, http.StatusOK, resp)
				return
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			h.Log.Warn("idempotency lookup failed", zap.Error(err))
		}
	}

	o, replayed, err := h.Orders.Checkout(ctx, orders.CheckoutRequest{
		Customer:       actor,
		DeliveryType:   req.DeliveryType,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: idem,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if idem != "" && h.Redis != nil {
		_ = h.Redis.Set(ctx, redisx.IdemOrderCreate(actor.ID, idem), o.ID, redisx.TTLIdempotency).Err()
	}

	resp := toOrderResp(o)
	resp.Replayed = replayed
	code := http.StatusCreated
	if replayed {
		code = http.StatusOK
	}
	writeData(w, code, resp)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Order(ctx, chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req advanceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, CodeValidation, "invalid json", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Advance(ctx, chi.URLParam(r, "id"), orders.Status(strings.ToUpper(string(req.Status))), actor)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, toOrderResp(o))
}

type variantResp struct {
	ID    string `json:"id"`
	SKU   string `json:"sku,omitempty"`
	Name  string `json:"name,omitempty"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
}

func (h *OrdersHandler) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vs, err := h.Variants.Variants(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]variantResp, 0, len(vs))
	for _, v := range vs {
		out = append(out, variantResp{ID: v.ID, SKU: v.SKU, Name: v.Name, Price: v.Price.StringFixed(2), Stock: v.Stock})
	}
	writeData(w, http.StatusOK, out)
}
