// Package checkout turns a cart into an immutable order and drives the
// payment hand-off.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/example/ec-ordering/internal/payment"
	"go.uber.org/zap"
)

var (
	ErrEmptyCart    = apperr.New(apperr.ErrValidation, "cart is empty")
	ErrInvalidTotal = apperr.New(apperr.ErrValidation, "order total must be positive")
)

// Snapshot is the placed order and the total it was priced at.
type Snapshot struct {
	OrderID string        `json:"order_id"`
	Total   pricing.Money `json:"total"`
	Order   *order.Order  `json:"order"`
}

// Result is a snapshot with its payment session.
type Result struct {
	Snapshot
	Payment *payment.Session `json:"payment"`
}

type Service struct {
	carts   *cart.Service
	orders  *order.Service
	quoter  cart.Quoter
	gateway payment.Gateway
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(
	carts *cart.Service,
	orders *order.Service,
	quoter cart.Quoter,
	gateway payment.Gateway,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		carts:   carts,
		orders:  orders,
		quoter:  quoter,
		gateway: gateway,
		metrics: m,
		logger:  logger.With(zap.String("component", "checkout")),
	}
}

// CreateSnapshot prices the cart from catalog data and stores it as a
// pending order. Prices and totals held by the cart are never used.
func (s *Service) CreateSnapshot(ctx context.Context, cartID string, contact order.Contact) (*Snapshot, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	lines := make([]order.Line, 0, len(c.Items))
	var total pricing.Money
	for _, li := range c.Items {
		quote, err := s.quoter.Quote(ctx, li.VariantID, li.AddOnIDs(), li.Quantity)
		if err != nil {
			return nil, fmt.Errorf("price line %s: %w", li.Key, err)
		}
		lines = append(lines, order.Line{
			Key:             li.Key,
			VariantID:       li.VariantID,
			VariantName:     quote.Variant.Name,
			AddOns:          cart.AddOnSnapshots(quote.AddOns),
			BaseIngredients: slices.Clone(li.BaseIngredients),
			Quantity:        li.Quantity,
			UnitPrice:       quote.UnitPrice,
			LineTotal:       quote.Total,
		})
		total += quote.Total
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTotal, total)
	}
	if total != c.Total {
		s.logger.Info("cart total differs from checkout price",
			zap.String("cart_id", cartID),
			zap.Stringer("cart_total", c.Total),
			zap.Stringer("checkout_total", total))
	}

	o, err := s.orders.Place(ctx, order.PlaceOrder{
		CartID:  cartID,
		Owner:   c.Owner,
		Lines:   lines,
		Contact: contact,
	})
	if err != nil {
		return nil, err
	}
	return &Snapshot{OrderID: o.ID, Total: o.Total, Order: o}, nil
}

// Checkout snapshots the cart and opens a payment session for the order. If
// the session cannot be created the order is cancelled. The cart is never
// modified here.
func (s *Service) Checkout(ctx context.Context, cartID string, contact order.Contact) (res *Result, err error) {
	defer func() { s.metrics.Checkout(err) }()

	snap, err := s.CreateSnapshot(ctx, cartID, contact)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, snap.OrderID, snap.Total)
	if err != nil {
		if _, cancelErr := s.orders.Cancel(context.WithoutCancel(ctx), snap.OrderID, "payment session failed"); cancelErr != nil {
			s.logger.Error("failed to cancel order after payment failure",
				zap.String("order_id", snap.OrderID),
				zap.Error(cancelErr))
		}
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	s.logger.Info("checkout started",
		zap.String("cart_id", cartID),
		zap.String("order_id", snap.OrderID),
		zap.Stringer("total", snap.Total))
	return &Result{Snapshot: *snap, Payment: session}, nil
}

// ConfirmPayment records a successful payment: the ordered units leave the
// cart and the order moves to processing. Confirming an order that is already
// past pending is a no-op; confirming a cancelled order is rejected.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case order.StatusPending:
	case order.StatusCancelled:
		return nil, order.ErrOrderCancelled
	default:
		s.logger.Info("payment already confirmed", zap.String("order_id", orderID), zap.String("status", string(o.Status)))
		return o, nil
	}

	// Remove the ordered units before the transition. It is keyed by order, so
	// a retry after a failed transition does not remove them twice.
	ordered := make(map[string]int, len(o.Lines))
	for _, line := range o.Lines {
		ordered[line.Key] += line.Quantity
	}
	if _, err := s.carts.RemoveOrdered(ctx, o.CartID, o.ID, ordered); err != nil {
		return nil, fmt.Errorf("remove ordered items from cart %s: %w", o.CartID, err)
	}

	o, err = s.orders.StartProcessing(ctx, orderID)
	if errors.Is(err, order.ErrInvalidStatus) || errors.Is(err, store.ErrVersionConflict) {
		// Confirmed concurrently.
		return s.orders.Get(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment confirmed", zap.String("order_id", orderID), zap.String("cart_id", o.CartID))
	return o, nil
}
