package order

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/events"
	"github.com/healthlink/healthlink/internal/platform/metrics"
)

var tracer = otel.Tracer("healthlink/order")

const maxIDAttempts = 50

// StoreLookup resolves the medical store an order is placed with.
type StoreLookup interface {
	GetMedicalStore(ctx context.Context, id uuid.UUID) (*directory.MedicalStore, error)
}

type Service struct {
	orders    Repository
	stores    StoreLookup
	tx        db.Transactor
	publisher events.Publisher
	metrics   *metrics.WorkflowMetrics
	now       func() time.Time
}

func NewService(orders Repository, stores StoreLookup, tx db.Transactor, publisher events.Publisher, m *metrics.WorkflowMetrics) *Service {
	if tx == nil {
		tx = db.NopTransactor{}
	}
	return &Service{
		orders:    orders,
		stores:    stores,
		tx:        tx,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}

// allocateID uses the current unix millisecond, bumping it until free.
func (s *Service) allocateID(ctx context.Context) (string, error) {
	ms := s.now().UnixMilli()
	for i := 0; i < maxIDAttempts; i++ {
		id := IDPrefix + strconv.FormatInt(ms+int64(i), 10)
		taken, err := s.orders.IDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check order id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate an order id after %d attempts", maxIDAttempts)
}

func validateItems(items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for i, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			return nil, apperr.Validation("item %d: name is required", i+1)
		}
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		if it.Quantity < 0 {
			return nil, apperr.Validation("item %d: quantity must be positive", i+1)
		}
		if it.Price < 0 || math.IsNaN(it.Price) || math.IsInf(it.Price, 0) {
			return nil, apperr.Validation("item %d: price must not be negative", i+1)
		}
		out = append(out, it)
	}
	return out, nil
}

// PlaceOrder records a Confirmed order with the store. The total defaults
// to the sum of the items.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req PlaceRequest) (ord *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.Place")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user is required")
	}
	storeID, err := uuid.Parse(req.StoreID)
	if err != nil {
		return nil, apperr.Validation("storeId is required")
	}
	items, err := validateItems(req.Items)
	if err != nil {
		return nil, err
	}
	total := ItemsTotal(items)
	if req.Total != nil {
		if *req.Total < 0 || math.IsNaN(*req.Total) || math.IsInf(*req.Total, 0) {
			return nil, apperr.Validation("total must not be negative")
		}
		total = *req.Total
	}

	store, err := s.stores.GetMedicalStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		id, err := s.allocateID(ctx)
		if err != nil {
			return err
		}
		o := &Order{
			ID:              id,
			UserID:          userID,
			StoreID:         store.ID,
			StoreName:       store.Name,
			Items:           items,
			Total:           total,
			Status:          StatusConfirmed,
			DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
			ContactEmail:    strings.TrimSpace(req.ContactEmail),
			ContactPhone:    strings.TrimSpace(req.ContactPhone),
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.publish(ctx, o, events.OrderPlaced, ""); err != nil {
			return err
		}
		ord = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(events.AggregateOrder, ord.Status)
	span.SetAttributes(attribute.String("healthlink.order_id", ord.ID))
	return ord, nil
}

// UpdateOrderStatus advances an order. Repeating the current status is a
// no-op and moving backwards fails with InvalidTransition.
func (s *Service) UpdateOrderStatus(ctx context.Context, id, status string) (ord *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("healthlink.order_id", id)))
	defer func() { endSpan(span, err) }()

	status = strings.TrimSpace(status)
	if !IsValidStatus(status) {
		return nil, apperr.Validation("unknown order status %q", status)
	}

	var changed bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanAdvance(o.Status, status) {
			return apperr.InvalidTransition("cannot move order %s from %s back to %s", id, o.Status, status)
		}
		ord = o
		if o.Status == status {
			return nil
		}
		prev := o.Status
		o.Status = status
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		changed = true
		return s.publish(ctx, o, events.OrderStatusChanged, prev)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.ObserveTransition(events.AggregateOrder, ord.Status)
	}
	return ord, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Order, int, error) {
	return s.orders.Search(ctx, Filter{UserID: userID}, limit, offset)
}

func (s *Service) ListByStore(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	return s.orders.Search(ctx, Filter{StoreID: storeID.String()}, limit, offset)
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !IsValidStatus(f.Status) {
		return nil, 0, apperr.Validation("unknown order status %q", f.Status)
	}
	return s.orders.Search(ctx, f, limit, offset)
}

func (s *Service) publish(ctx context.Context, o *Order, eventType, prev string) error {
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, events.Event{
		Aggregate:   events.AggregateOrder,
		AggregateID: o.ID,
		Type:        eventType,
		Payload: events.OrderPayload{
			ID:             o.ID,
			UserID:         o.UserID,
			StoreID:        o.StoreID.String(),
			StoreName:      o.StoreName,
			Total:          o.Total,
			Status:         o.Status,
			PreviousStatus: prev,
			ContactEmail:   o.ContactEmail,
			ContactPhone:   o.ContactPhone,
		},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
