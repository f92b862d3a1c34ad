package catalog

import (
	"context"
	"fmt"

	"github.com/example/ec-ordering/internal/domain/composition"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// Quote is the server-side price of one line.
type Quote struct {
	Variant   Variant
	AddOns    []AddOn // sorted by id, no duplicates
	UnitPrice pricing.Money
	Total     pricing.Money
}

// Pricer derives line prices from current catalog data. The cart and the
// checkout both price through it, so a price never comes from the client.
type Pricer struct {
	catalog Catalog
}

func NewPricer(c Catalog) *Pricer {
	return &Pricer{catalog: c}
}

// Quote prices quantity units of a variant with an add-on set.
func (p *Pricer) Quote(ctx context.Context, variantID string, addOnIDs []string, quantity int) (*Quote, error) {
	variant, err := p.catalog.Variant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	addOns, err := p.catalog.AddOns(ctx, composition.AddOnSet(addOnIDs))
	if err != nil {
		return nil, err
	}

	prices := make([]decimal.Decimal, len(addOns))
	for i, a := range addOns {
		prices[i] = a.Price
	}

	unit, err := pricing.Price(variant.BasePrice, prices, 1)
	if err != nil {
		return nil, fmt.Errorf("price variant %s: %w", variantID, err)
	}
	total, err := pricing.Price(variant.BasePrice, prices, quantity)
	if err != nil {
		return nil, fmt.Errorf("price variant %s: %w", variantID, err)
	}

	return &Quote{
		Variant:   *variant,
		AddOns:    addOns,
		UnitPrice: unit,
		Total:     total,
	}, nil
}
