package catalog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryCatalog keeps reference data in memory.
type MemoryCatalog struct {
	mu       sync.RWMutex
	variants map[string]Variant
	addOns   map[string]AddOn
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		variants: make(map[string]Variant),
		addOns:   make(map[string]AddOn),
	}
}

func (c *MemoryCatalog) PutVariant(v Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[v.ID] = v
}

func (c *MemoryCatalog) PutAddOn(a AddOn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addOns[a.ID] = a
}

func (c *MemoryCatalog) Variant(_ context.Context, id string) (*Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	return &v, nil
}

func (c *MemoryCatalog) AddOns(_ context.Context, ids []string) ([]AddOn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AddOn, 0, len(ids))
	for _, id := range ids {
		a, ok := c.addOns[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAddOnNotFound, id)
		}
		out = append(out, a)
	}
	return out, nil
}
