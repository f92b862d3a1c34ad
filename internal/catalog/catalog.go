// Package catalog is the read-only source of variant and add-on prices used
// by the cart and checkout.
package catalog

import (
	"context"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrVariantNotFound = apperr.New(apperr.ErrNotFound, "variant not found")
	ErrAddOnNotFound   = apperr.New(apperr.ErrNotFound, "add-on ingredient not found")
)

// Variant is a purchasable size/dough combination of a product.
type Variant struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
	SizeID    string          `json:"size_id,omitempty"`
	DoughID   string          `json:"dough_id,omitempty"`
}

// AddOn is an extra ingredient a customer can put on a variant.
type AddOn struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Catalog looks up current reference data.
type Catalog interface {
	Variant(ctx context.Context, id string) (*Variant, error)
	// AddOns returns one entry per requested id in request order, or
	// ErrAddOnNotFound if any id is unknown.
	AddOns(ctx context.Context, ids []string) ([]AddOn, error)
}
