package cart

import (
	"time"

	"github.com/example/ec-ordering/internal/domain/pricing"
)

const (
	EventCartCreated             = "CartCreated"
	EventLineItemAdded           = "LineItemAdded"
	EventLineItemQuantityChanged = "LineItemQuantityChanged"
	EventLineItemRemoved         = "LineItemRemoved"
	EventCartCleared             = "CartCleared"
	EventCartCheckedOut          = "CartCheckedOut"
)

// Pricing is the authoritative price state after a mutation. Every mutation
// event carries it, so the line change and the total it produces are stored
// in one append.
type Pricing struct {
	Total      pricing.Money            `json:"total"`
	UnitPrices map[string]pricing.Money `json:"unit_prices"` // line key -> unit price
}

type CartCreated struct {
	CartID    string    `json:"cart_id"`
	Owner     Owner     `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// LineItemAdded adds a new line with quantity 1, or increments the line with
// the same key. The snapshots only apply to a new line.
type LineItemAdded struct {
	CartID          string                `json:"cart_id"`
	Key             string                `json:"key"`
	VariantID       string                `json:"variant_id"`
	AddOns          []AddOnSnapshot       `json:"add_ons"`
	BaseIngredients []BaseIngredientState `json:"base_ingredients"`
	Pricing
	AddedAt time.Time `json:"added_at"`
}

type LineItemQuantityChanged struct {
	CartID   string `json:"cart_id"`
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
	Pricing
	ChangedAt time.Time `json:"changed_at"`
}

type LineItemRemoved struct {
	CartID string `json:"cart_id"`
	Key    string `json:"key"`
	Pricing
	RemovedAt time.Time `json:"removed_at"`
}

type CartCleared struct {
	CartID    string    `json:"cart_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

// CartCheckedOut removes the units a paid order was placed for. Quantities is
// the remaining quantity of each ordered line still in the cart; zero removes
// the line.
type CartCheckedOut struct {
	CartID     string         `json:"cart_id"`
	OrderID    string         `json:"order_id"`
	Quantities map[string]int `json:"quantities"`
	Pricing
	CheckedOutAt time.Time `json:"checked_out_at"`
}
