package cart

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const AggregateType = "Cart"

type OwnerKind string

const (
	OwnerUser      OwnerKind = "user"
	OwnerAnonymous OwnerKind = "anonymous"
)

// Owner is either an authenticated user or an anonymous cart token.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o Owner) Validate() error {
	if o.ID == "" || (o.Kind != OwnerUser && o.Kind != OwnerAnonymous) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidOwner, o.Kind, o.ID)
	}
	return nil
}

// GetCartID returns the cart ID of an owner. Each owner has exactly one cart.
func GetCartID(owner Owner) string {
	return "cart-" + string(owner.Kind) + "-" + owner.ID
}

// AddOnSnapshot is the add-on ingredient as priced when the line was created.
type AddOnSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url,omitempty"`
}

// BaseIngredientState is the customer's configuration of one base ingredient,
// copied at the moment the line was configured.
type BaseIngredientState struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ImageURL   string `json:"image_url,omitempty"`
	Removable  bool   `json:"removable"`
	IsDisabled bool   `json:"is_disabled"`
}

type LineItem struct {
	Key             string                `json:"key"`
	VariantID       string                `json:"variant_id"`
	AddOns          []AddOnSnapshot       `json:"add_ons"`
	BaseIngredients []BaseIngredientState `json:"base_ingredients"`
	Quantity        int                   `json:"quantity"`
	UnitPrice       pricing.Money         `json:"unit_price"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// AddOnIDs returns the ids of the line's add-ons.
func (li LineItem) AddOnIDs() []string {
	ids := make([]string, len(li.AddOns))
	for i, a := range li.AddOns {
		ids[i] = a.ID
	}
	return ids
}

// Cart is the authoritative cart aggregate. Total is always the sum of the
// line prices stored by the last mutation.
type Cart struct {
	ID        string        `json:"id"`
	Owner     Owner         `json:"owner"`
	Items     []LineItem    `json:"items"`
	Total     pricing.Money `json:"total"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int           `json:"version"`

	// CheckedOutOrders holds the most recent orders whose units were removed.
	CheckedOutOrders []string `json:"checked_out_orders,omitempty"`
}

const maxCheckedOutOrders = 20

func (c *Cart) GetID() string    { return c.ID }
func (c *Cart) GetVersion() int  { return c.Version }
func (c *Cart) SetVersion(v int) { c.Version = v }

// Item returns the line with key.
func (c *Cart) Item(key string) (LineItem, bool) {
	i := c.indexOf(key)
	if i < 0 {
		return LineItem{}, false
	}
	return c.Items[i], true
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) indexOf(key string) int {
	return slices.IndexFunc(c.Items, func(li LineItem) bool { return li.Key == key })
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	for i, li := range c.Items {
		li.AddOns = slices.Clone(li.AddOns)
		li.BaseIngredients = slices.Clone(li.BaseIngredients)
		out.Items[i] = li
	}
	out.CheckedOutOrders = slices.Clone(c.CheckedOutOrders)
	return &out
}

// ApplyEvent applies a single event to the cart state
func (c *Cart) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventCartCreated:
		var data CartCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.ID = data.CartID
		c.Owner = data.Owner
		c.Items = []LineItem{}
		c.CreatedAt = data.CreatedAt
		c.UpdatedAt = data.CreatedAt

	case EventLineItemAdded:
		var data LineItemAdded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if i := c.indexOf(data.Key); i >= 0 {
			c.Items[i].Quantity++
			c.Items[i].UpdatedAt = data.AddedAt
		} else {
			c.Items = append(c.Items, LineItem{
				Key:             data.Key,
				VariantID:       data.VariantID,
				AddOns:          data.AddOns,
				BaseIngredients: data.BaseIngredients,
				Quantity:        1,
				UpdatedAt:       data.AddedAt,
			})
		}
		c.applyPricing(data.Pricing, data.AddedAt)

	case EventLineItemQuantityChanged:
		var data LineItemQuantityChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		i := c.indexOf(data.Key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrLineItemNotFound, data.Key)
		}
		c.Items[i].Quantity = data.Quantity
		c.Items[i].UpdatedAt = data.ChangedAt
		c.applyPricing(data.Pricing, data.ChangedAt)

	case EventLineItemRemoved:
		var data LineItemRemoved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if i := c.indexOf(data.Key); i >= 0 {
			c.Items = slices.Delete(c.Items, i, i+1)
		}
		c.applyPricing(data.Pricing, data.RemovedAt)

	case EventCartCleared:
		var data CartCleared
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.Items = []LineItem{}
		c.Total = 0
		c.UpdatedAt = data.ClearedAt

	case EventCartCheckedOut:
		var data CartCheckedOut
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		for key, quantity := range data.Quantities {
			i := c.indexOf(key)
			switch {
			case i < 0:
			case quantity == 0:
				c.Items = slices.Delete(c.Items, i, i+1)
			default:
				c.Items[i].Quantity = quantity
				c.Items[i].UpdatedAt = data.CheckedOutAt
			}
		}
		c.CheckedOutOrders = append(c.CheckedOutOrders, data.OrderID)
		if n := len(c.CheckedOutOrders); n > maxCheckedOutOrders {
			c.CheckedOutOrders = slices.Clone(c.CheckedOutOrders[n-maxCheckedOutOrders:])
		}
		c.applyPricing(data.Pricing, data.CheckedOutAt)
	}
	c.Version = event.Version
	return nil
}

func (c *Cart) applyPricing(p Pricing, at time.Time) {
	for i := range c.Items {
		if price, ok := p.UnitPrices[c.Items[i].Key]; ok {
			c.Items[i].UnitPrice = price
		}
	}
	c.Total = p.Total
	c.UpdatedAt = at
}
