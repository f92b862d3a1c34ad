package order

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const AggregateType = "Order"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusSucceeded  Status = "succeeded"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrOrderNotFound       = apperr.New(apperr.ErrNotFound, "order not found")
	ErrEmptyOrder          = apperr.New(apperr.ErrValidation, "order must have at least one line")
	ErrInvalidDeliveryTime = apperr.New(apperr.ErrValidation, "delivery time is required")
	ErrInvalidStatus       = apperr.New(apperr.ErrConflict, "invalid order status transition")
	ErrOrderCancelled      = apperr.New(apperr.ErrConflict, "order is already cancelled")
	ErrOrderCompleted      = apperr.New(apperr.ErrConflict, "order is already completed")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusReady, StatusCancelled},
	StatusReady:      {StatusSucceeded},
	StatusSucceeded:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	_, ok := validTransitions[Status(s)]
	return Status(s), ok
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	return slices.Contains(validTransitions[o.Status], target)
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch o.Status {
	case StatusCancelled:
		return ErrOrderCancelled
	case StatusSucceeded:
		return ErrOrderCompleted
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

// Order is the immutable record of a checkout. Only Status and
// DeliveryTime change after placement.
type Order struct {
	ID           string        `json:"id"`
	CartID       string        `json:"cart_id"`
	Owner        cart.Owner    `json:"owner"`
	Lines        []Line        `json:"lines"`
	Contact      Contact       `json:"contact"`
	Status       Status        `json:"status"`
	Total        pricing.Money `json:"total"`
	DeliveryTime *time.Time    `json:"delivery_time,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int           `json:"version"` // Current event version
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.CartID = data.CartID
		o.Owner = data.Owner
		o.Lines = data.Lines
		o.Contact = data.Contact
		o.Total = data.Total
		o.Status = StatusPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventOrderProcessingStarted:
		var data OrderProcessingStarted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusProcessing
		o.UpdatedAt = data.StartedAt
	case EventOrderReady:
		var data OrderReady
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusReady
		o.UpdatedAt = data.ReadyAt
	case EventOrderSucceeded:
		var data OrderSucceeded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusSucceeded
		o.UpdatedAt = data.SucceededAt
	case EventOrderCancelled:
		var data OrderCancelled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.CancelReason = data.Reason
		o.UpdatedAt = data.CancelledAt
	case EventDeliveryTimeSet:
		var data DeliveryTimeSet
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		t := data.DeliveryTime
		o.DeliveryTime = &t
		o.UpdatedAt = data.SetAt
	}
	o.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		logger:     logger.With(zap.String("component", "order_service")),
	}
}

// PlaceOrder is the priced content of a new order.
type PlaceOrder struct {
	CartID  string
	Owner   cart.Owner
	Lines   []Line
	Contact Contact
}

// Place stores a new order at pending. The total is the sum of the line
// totals.
func (s *Service) Place(ctx context.Context, cmd PlaceOrder) (*Order, error) {
	if len(cmd.Lines) == 0 {
		return nil, ErrEmptyOrder
	}

	var total pricing.Money
	for _, l := range cmd.Lines {
		total += l.LineTotal
	}

	orderID := uuid.New().String()
	event := OrderPlaced{
		OrderID:  orderID,
		CartID:   cmd.CartID,
		Owner:    cmd.Owner,
		Lines:    cmd.Lines,
		Contact:  cmd.Contact,
		Total:    total,
		PlacedAt: time.Now().UTC(),
	}

	storedEvent, err := s.eventStore.Append(ctx, orderID, AggregateType, EventOrderPlaced, store.NoVersion, event)
	if err != nil {
		return nil, err
	}

	order := &Order{}
	if err := order.ApplyEvent(*storedEvent); err != nil {
		return nil, fmt.Errorf("failed to apply event: %w", err)
	}
	s.logger.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("cart_id", cmd.CartID),
		zap.Stringer("total", total))
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.loadOrder(ctx, orderID)
}

func (s *Service) StartProcessing(ctx context.Context, orderID string) (*Order, error) {
	return s.Transition(ctx, orderID, StatusProcessing, "")
}

func (s *Service) MarkReady(ctx context.Context, orderID string) (*Order, error) {
	return s.Transition(ctx, orderID, StatusReady, "")
}

func (s *Service) Succeed(ctx context.Context, orderID string) (*Order, error) {
	return s.Transition(ctx, orderID, StatusSucceeded, "")
}

func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	return s.Transition(ctx, orderID, StatusCancelled, reason)
}

// Transition moves the order to target. reason is only recorded for
// cancellations.
func (s *Service) Transition(ctx context.Context, orderID string, target Status, reason string) (*Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.CanTransitionTo(target) {
		return nil, order.transitionError(target)
	}

	now := time.Now().UTC()
	var eventType string
	var event any
	switch target {
	case StatusProcessing:
		eventType, event = EventOrderProcessingStarted, OrderProcessingStarted{OrderID: orderID, StartedAt: now}
	case StatusReady:
		eventType, event = EventOrderReady, OrderReady{OrderID: orderID, ReadyAt: now}
	case StatusSucceeded:
		eventType, event = EventOrderSucceeded, OrderSucceeded{OrderID: orderID, SucceededAt: now}
	case StatusCancelled:
		eventType, event = EventOrderCancelled, OrderCancelled{OrderID: orderID, Reason: reason, CancelledAt: now}
	default:
		return nil, fmt.Errorf("%w: unknown status %s", ErrInvalidStatus, target)
	}

	if err := s.append(ctx, order, eventType, event); err != nil {
		return nil, err
	}
	s.logger.Info("order status changed", zap.String("order_id", orderID), zap.String("status", string(order.Status)))
	return order, nil
}

// SetDeliveryTime records the promised delivery time of an open order.
func (s *Service) SetDeliveryTime(ctx context.Context, orderID string, deliveryTime time.Time) (*Order, error) {
	if deliveryTime.IsZero() {
		return nil, ErrInvalidDeliveryTime
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case StatusCancelled:
		return nil, ErrOrderCancelled
	case StatusSucceeded:
		return nil, ErrOrderCompleted
	}

	event := DeliveryTimeSet{OrderID: orderID, DeliveryTime: deliveryTime.UTC(), SetAt: time.Now().UTC()}
	if err := s.append(ctx, order, EventDeliveryTimeSet, event); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) append(ctx context.Context, order *Order, eventType string, event any) error {
	storedEvent, err := s.eventStore.Append(ctx, order.ID, AggregateType, eventType, order.Version, event)
	if err != nil {
		return err
	}
	if err := order.ApplyEvent(*storedEvent); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	// Check if we need to create a snapshot
	if err := aggregate.SnapshotIfDue(ctx, s.eventStore, AggregateType, order); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("order_id", order.ID), zap.Error(err))
	}
	return nil
}

// loadOrder loads an order by replaying events, using snapshot if available
func (s *Service) loadOrder(ctx context.Context, orderID string) (*Order, error) {
	order, found, err := aggregate.Load(ctx, s.eventStore, AggregateType, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}
