package command

import "github.com/example/ec-ordering/internal/domain/cart"

// Cart Commands
type CreateCart struct {
	Owner cart.Owner `json:"owner"`
}

type AddToCart struct {
	CartID          string                     `json:"cart_id"`
	VariantID       string                     `json:"variant_id"`
	AddOnIDs        []string                   `json:"add_on_ids"`
	BaseIngredients []cart.BaseIngredientState `json:"base_ingredients"`
	IdempotencyKey  string                     `json:"-"`
}

type SetQuantity struct {
	CartID         string `json:"cart_id"`
	Key            string `json:"key"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"-"`
}

type RemoveFromCart struct {
	CartID         string `json:"cart_id"`
	Key            string `json:"key"`
	IdempotencyKey string `json:"-"`
}
