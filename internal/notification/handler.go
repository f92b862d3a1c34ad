package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/email"
	"github.com/example/ec-ordering/internal/infrastructure/store"
)

// Sender delivers order confirmation emails.
type Sender interface {
	SendOrderConfirmation(to string, c email.Confirmation) error
}

// Handler processes events for sending notifications
type Handler struct {
	sender Sender
	logger *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(sender Sender, logger *zap.Logger) *Handler {
	return &Handler{sender: sender, logger: logger.With(zap.String("component", "notification"))}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(_ context.Context, _, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: decode event: %w", apperr.ErrValidation, err)
	}

	if event.EventType == order.EventOrderPlaced {
		return h.handleOrderPlaced(event)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(event store.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return fmt.Errorf("%w: decode %s: %w", apperr.ErrValidation, event.EventType, err)
	}

	logger := h.logger.With(zap.String("order_id", e.OrderID))
	if e.Contact.Email == "" {
		logger.Info("order has no contact email, skipping confirmation")
		return nil
	}

	if err := h.sender.SendOrderConfirmation(e.Contact.Email, confirmation(e)); err != nil {
		return fmt.Errorf("send confirmation for order %s: %w", e.OrderID, err)
	}

	logger.Info("order confirmation sent", zap.Int("lines", len(e.Lines)))
	return nil
}

func confirmation(e order.OrderPlaced) email.Confirmation {
	items := make([]email.OrderItem, 0, len(e.Lines))
	for _, line := range e.Lines {
		item := email.OrderItem{
			Name:      line.VariantName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
		if item.Name == "" {
			item.Name = line.VariantID
		}
		for _, a := range line.AddOns {
			item.AddOns = append(item.AddOns, a.Name)
		}
		for _, b := range line.BaseIngredients {
			if b.IsDisabled {
				item.Removed = append(item.Removed, b.Name)
			}
		}
		items = append(items, item)
	}

	return email.Confirmation{
		OrderID:      e.OrderID,
		CustomerName: e.Contact.Name,
		Address:      e.Contact.Address,
		Items:        items,
		Total:        e.Total,
	}
}
