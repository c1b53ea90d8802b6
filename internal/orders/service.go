package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrDuplicateKey is returned by a store when a concurrent checkout already
// used the same idempotency key.
var ErrDuplicateKey = errors.New("idempotency key already used")

// Adjuster supplies tax/shipping adjustments. Their rules live outside this service.
type Adjuster interface {
	Adjustments(ctx context.Context, customerID string, lines []Line, deliveryType string) ([]Adjustment, error)
}

// Publisher informs staff about a new order. It must not block.
type Publisher interface {
	Publish(o Order)
}

// EventSink receives committed order changes for downstream consumers.
type EventSink interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderStatusChanged(ctx context.Context, o *Order, from Status)
}

type CheckoutRequest struct {
	Customer       Actor
	DeliveryType   string
	PaymentMethod  string
	IdempotencyKey string
}

type Service struct {
	store     Store
	stock     StockReconciler
	assembler *Assembler
	lifecycle *Lifecycle
	adjuster  Adjuster
	publisher Publisher
	events    EventSink
	log       *zap.Logger
}

type Option func(*Service)

func WithAdjuster(a Adjuster) Option   { return func(s *Service) { s.adjuster = a } }
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithEvents(e EventSink) Option    { return func(s *Service) { s.events = e } }
func WithLogger(l *zap.Logger) Option  { return func(s *Service) { s.log = l } }

func NewService(store Store, assembler *Assembler, lifecycle *Lifecycle, opts ...Option) *Service {
	s := &Service{
		store:     store,
		assembler: assembler,
		lifecycle: lifecycle,
		adjuster:  noAdjustments{},
		publisher: nopPublisher{},
		events:    nopEvents{},
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orders")

// Checkout converts the caller's active cart into a PENDING order. Stock
// reservation, order insert and cart clearing commit together. replayed is
// true when the idempotency key matched an existing order.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (o *Order, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "orders.Checkout")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.Customer.ID == "" {
		return nil, false, ErrUnauthorized
	}
	req.DeliveryType = strings.TrimSpace(req.DeliveryType)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.DeliveryType == "" || req.PaymentMethod == "" {
		return nil, false, validationf("delivery_type and payment_method are required")
	}

	o, replayed, err = s.checkoutTx(ctx, req)
	if errors.Is(err, ErrDuplicateKey) {
		// lost the race against a retry carrying the same key
		o, replayed, err = s.checkoutTx(ctx, req)
	}
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.number", o.Number),
		attribute.Bool("order.replayed", replayed),
	)
	if replayed {
		return o, true, nil
	}

	s.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("customer_id", o.CustomerID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Int("items", len(o.Items)),
	)
	s.publisher.Publish(*o)
	s.events.OrderCreated(ctx, o)
	return o, false, nil
}

func (s *Service) checkoutTx(ctx context.Context, req CheckoutRequest) (*Order, bool, error) {
	var (
		out      *Order
		replayed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		if req.IdempotencyKey != "" {
			prev, err := tx.OrderByIdempotencyKey(ctx, req.Customer.ID, req.IdempotencyKey)
			if err == nil {
				out, replayed = prev, true
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		lines, err := tx.CartLines(ctx, req.Customer.ID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		lines = MergeLines(lines)
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		reserved, err := s.stock.Reserve(ctx, tx, lines)
		if err != nil {
			return err
		}
		adj, err := s.adjuster.Adjustments(ctx, req.Customer.ID, reserved.Lines, req.DeliveryType)
		if err != nil {
			return fmt.Errorf("adjustments: %w", err)
		}
		o, err := s.assembler.Assemble(ctx, tx, AssembleInput{
			Customer:       req.Customer,
			Reserved:       reserved,
			DeliveryType:   req.DeliveryType,
			PaymentMethod:  req.PaymentMethod,
			Adjustments:    adj,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, req.Customer.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, replayed, nil
}

// Order returns an order visible to the actor.
func (s *Service) Order(ctx context.Context, id string, actor Actor) (*Order, error) {
	if actor.ID == "" {
		return nil, ErrUnauthorized
	}
	o, err := s.store.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !o.OwnedBy(actor) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) Cancel(ctx context.Context, id string, actor Actor) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.Cancel")
	defer span.End()

	o, from, err := s.lifecycle.Cancel(ctx, id, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if from != "" {
		s.log.Info("order cancelled",
			zap.String("order_id", o.ID),
			zap.String("order_number", o.Number),
			zap.String("actor", actor.ID),
		)
		s.events.OrderStatusChanged(ctx, o, from)
	}
	return o, nil
}

func (s *Service) Advance(ctx context.Context, id string, next Status, actor Actor) (*Order, error) {
	o, from, err := s.lifecycle.Advance(ctx, id, next, actor)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("actor", actor.ID),
	)
	s.events.OrderStatusChanged(ctx, o, from)
	return o, nil
}

type noAdjustments struct{}

func (noAdjustments) Adjustments(context.Context, string, []Line, string) ([]Adjustment, error) {
	return nil, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(Order) {}

// MultiEvents forwards every event to each sink in order.
type MultiEvents []EventSink

func (m MultiEvents) OrderCreated(ctx context.Context, o *Order) {
	for _, e := range m {
		e.OrderCreated(ctx, o)
	}
}

func (m MultiEvents) OrderStatusChanged(ctx context.Context, o *Order, from Status) {
	for _, e := range m {
		e.OrderStatusChanged(ctx, o, from)
	}
}

type nopEvents struct{}

func (nopEvents) OrderCreated(context.Context, *Order)               {}
func (nopEvents) OrderStatusChanged(context.Context, *Order, Status) {}
