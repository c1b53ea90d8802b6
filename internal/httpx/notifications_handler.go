package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Subscriber serves the live push stream for one admin.
type Subscriber interface {
	Serve(w http.ResponseWriter, r *http.Request, subscriberID string)
}

type NotificationsHandler struct {
	Store notify.Store
	Push  Subscriber
	Log   *zap.Logger
}

// Register mounts the polling endpoint. The websocket route is mounted by
// RegisterStream outside the request timeout.
func (h *NotificationsHandler) Register(r chi.Router) {
	r.With(RequireAdmin).Get("/admin/notifications", h.list)
}

func (h *NotificationsHandler) RegisterStream(r chi.Router) {
	if h.Push != nil {
		r.With(RequireAdmin).Get("/admin/notifications/ws", h.stream)
	}
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	limit := notify.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, h.Log, orders.ErrValidation)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ns, err := h.Store.List(ctx, actor.ID, notify.ClampLimit(limit))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeData(w, http.StatusOK, ns)
}

func (h *NotificationsHandler) stream(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	h.Push.Serve(w, r, actor.ID)
}
