package order

import (
	"time"

	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/pricing"
)

const (
	EventOrderPlaced            = "OrderPlaced"
	EventOrderProcessingStarted = "OrderProcessingStarted"
	EventOrderReady             = "OrderReady"
	EventOrderSucceeded         = "OrderSucceeded"
	EventOrderCancelled         = "OrderCancelled"
	EventDeliveryTimeSet        = "OrderDeliveryTimeSet"
)

// Line is an immutable copy of a cart line taken at checkout.
type Line struct {
	Key             string                     `json:"key"`
	VariantID       string                     `json:"variant_id"`
	VariantName     string                     `json:"variant_name"`
	AddOns          []cart.AddOnSnapshot       `json:"add_ons"`
	BaseIngredients []cart.BaseIngredientState `json:"base_ingredients"`
	Quantity        int                        `json:"quantity"`
	UnitPrice       pricing.Money              `json:"unit_price"`
	LineTotal       pricing.Money              `json:"line_total"`
}

// Contact holds the customer's contact and delivery fields.
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Comment string `json:"comment,omitempty"`
}

type OrderPlaced struct {
	OrderID  string        `json:"order_id"`
	CartID   string        `json:"cart_id"`
	Owner    cart.Owner    `json:"owner"`
	Lines    []Line        `json:"lines"`
	Contact  Contact       `json:"contact"`
	Total    pricing.Money `json:"total"`
	PlacedAt time.Time     `json:"placed_at"`
}

type OrderProcessingStarted struct {
	OrderID   string    `json:"order_id"`
	StartedAt time.Time `json:"started_at"`
}

type OrderReady struct {
	OrderID string    `json:"order_id"`
	ReadyAt time.Time `json:"ready_at"`
}

type OrderSucceeded struct {
	OrderID     string    `json:"order_id"`
	SucceededAt time.Time `json:"succeeded_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type DeliveryTimeSet struct {
	OrderID      string    `json:"order_id"`
	DeliveryTime time.Time `json:"delivery_time"`
	SetAt        time.Time `json:"set_at"`
}
