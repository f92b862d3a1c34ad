package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/email"
	"github.com/example/ec-ordering/internal/infrastructure/store"
)

type sent struct {
	to string
	c  email.Confirmation
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) SendOrderConfirmation(to string, c email.Confirmation) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{to: to, c: c})
	return nil
}

func eventJSON(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	value, err := json.Marshal(store.Event{
		ID:            "e1",
		AggregateID:   "o1",
		AggregateType: order.AggregateType,
		EventType:     eventType,
		Data:          raw,
		Version:       1,
	})
	require.NoError(t, err)
	return value
}

func placed(emailAddr string) order.OrderPlaced {
	return order.OrderPlaced{
		OrderID: "o1",
		Lines: []order.Line{
			{
				VariantID:   "v1",
				VariantName: "Margherita",
				AddOns:      []cart.AddOnSnapshot{{ID: "a1", Name: "Extra cheese"}},
				BaseIngredients: []cart.BaseIngredientState{
					{ID: "b1", Name: "Basil", IsDisabled: true},
					{ID: "b2", Name: "Tomato"},
				},
				Quantity:  2,
				UnitPrice: 950,
				LineTotal: 1900,
			},
			{VariantID: "v2", Quantity: 1, UnitPrice: 300, LineTotal: 300},
		},
		Contact: order.Contact{Name: "Ann", Email: emailAddr, Address: "1 Main St"},
		Total:   2200,
	}
}

func TestHandler_OrderPlacedSendsConfirmation(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, zap.NewNop())

	require.NoError(t, h.HandleEvent(context.Background(), []byte("o1"), eventJSON(t, order.EventOrderPlaced, placed("ann@example.com"))))
	require.Len(t, sender.sent, 1)

	got := sender.sent[0]
	assert.Equal(t, "ann@example.com", got.to)
	assert.Equal(t, "o1", got.c.OrderID)
	assert.Equal(t, "Ann", got.c.CustomerName)
	assert.Equal(t, "22.00", got.c.Total.String())
	require.Len(t, got.c.Items, 2)
	assert.Equal(t, []string{"Extra cheese"}, got.c.Items[0].AddOns)
	assert.Equal(t, []string{"Basil"}, got.c.Items[0].Removed)
	assert.Equal(t, "v2", got.c.Items[1].Name)
}

func TestHandler_IgnoresOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, zap.NewNop())

	err := h.HandleEvent(context.Background(), nil, eventJSON(t, order.EventOrderCancelled, map[string]string{"order_id": "o1"}))
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandler_NoEmailIsSkipped(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, zap.NewNop())

	require.NoError(t, h.HandleEvent(context.Background(), nil, eventJSON(t, order.EventOrderPlaced, placed(""))))
	assert.Empty(t, sender.sent)
}

func TestHandler_Errors(t *testing.T) {
	h := NewHandler(&fakeSender{err: apperr.New(apperr.ErrTransient, "smtp down")}, zap.NewNop())

	err := h.HandleEvent(context.Background(), nil, []byte("{not json"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = h.HandleEvent(context.Background(), nil, eventJSON(t, order.EventOrderPlaced, placed("ann@example.com")))
	assert.True(t, apperr.IsRetryable(err))
}
