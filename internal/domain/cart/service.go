package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/catalog"
	"github.com/example/ec-ordering/internal/domain/aggregate"
	"github.com/example/ec-ordering/internal/domain/composition"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrCartNotFound           = apperr.New(apperr.ErrNotFound, "cart not found")
	ErrLineItemNotFound       = apperr.New(apperr.ErrNotFound, "line item not found")
	ErrInvalidQuantity        = apperr.New(apperr.ErrValidation, "quantity must not be negative")
	ErrInvalidIngredientState = apperr.New(apperr.ErrValidation, "only removable base ingredients can be disabled")
	ErrInvalidVariant         = apperr.New(apperr.ErrValidation, "variant_id is required")
	ErrInvalidOwner           = apperr.New(apperr.ErrValidation, "invalid cart owner")
)

// maxConflictRetries bounds how often a mutation is re-read and re-applied
// after another process appended to the same cart.
const maxConflictRetries = 3

// Quoter prices a line from current catalog data.
type Quoter interface {
	Quote(ctx context.Context, variantID string, addOnIDs []string, quantity int) (*catalog.Quote, error)
}

// Service is the cart store. Mutations of one cart are serialized by a
// per-cart lock in this process and by the event store's version check across
// processes. Every mutation recomputes the total from all lines and stores it
// in the same event as the line change.
type Service struct {
	eventStore store.EventStoreInterface
	quoter     Quoter
	locks      *keyedMutex
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(es store.EventStoreInterface, quoter Quoter, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		quoter:     quoter,
		locks:      newKeyedMutex(),
		metrics:    m,
		logger:     logger.With(zap.String("component", "cart_service")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create returns the owner's cart, creating it on first use.
func (s *Service) Create(ctx context.Context, owner Owner) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cartID := GetCartID(owner)

	unlock := s.locks.Lock(cartID)
	defer unlock()

	cart, found, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if found {
		return cart, nil
	}

	event := CartCreated{CartID: cartID, Owner: owner, CreatedAt: s.now()}
	stored, err := s.eventStore.Append(ctx, cartID, AggregateType, EventCartCreated, store.NoVersion, event)
	if errors.Is(err, store.ErrVersionConflict) {
		// Created concurrently by another process.
		return s.Get(ctx, cartID)
	}
	if err != nil {
		return nil, err
	}
	if err := cart.ApplyEvent(*stored); err != nil {
		return nil, fmt.Errorf("failed to apply event: %w", err)
	}
	s.logger.Info("cart created", zap.String("cart_id", cartID), zap.String("owner_kind", string(owner.Kind)))
	return cart, nil
}

func (s *Service) Get(ctx context.Context, cartID string) (*Cart, error) {
	cart, found, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCartNotFound, cartID)
	}
	return cart, nil
}

// GetTotal returns the total stored by the last mutation.
func (s *Service) GetTotal(ctx context.Context, cartID string) (pricing.Money, error) {
	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return 0, err
	}
	return cart.Total, nil
}

// AddOrIncrement adds one unit of a variant with an add-on set. A line with
// the same composition key is incremented and keeps the ingredient snapshot it
// was created with.
func (s *Service) AddOrIncrement(ctx context.Context, cartID, variantID string, addOnIDs []string, baseIngredients []BaseIngredientState) (cart *Cart, err error) {
	defer func() { s.metrics.CartMutation("add", err) }()

	if variantID == "" {
		return nil, ErrInvalidVariant
	}
	if err := validateBaseIngredients(baseIngredients); err != nil {
		return nil, err
	}
	key := composition.Key(variantID, addOnIDs)

	return s.mutate(ctx, cartID, func(current *Cart) (string, any, error) {
		next := current.Clone()
		now := s.now()
		event := LineItemAdded{CartID: cartID, Key: key, VariantID: variantID, AddedAt: now}

		if i := next.indexOf(key); i >= 0 {
			if !sameConfiguration(next.Items[i].BaseIngredients, baseIngredients) {
				s.logger.Warn("base ingredient configuration differs from line snapshot",
					zap.String("cart_id", cartID),
					zap.String("key", key))
			}
			next.Items[i].Quantity++
		} else {
			quote, err := s.quoter.Quote(ctx, variantID, addOnIDs, 1)
			if err != nil {
				return "", nil, err
			}
			event.AddOns = AddOnSnapshots(quote.AddOns)
			event.BaseIngredients = slices.Clone(baseIngredients)
			next.Items = append(next.Items, LineItem{Key: key, VariantID: variantID, AddOns: event.AddOns, Quantity: 1})
		}

		p, err := s.reprice(ctx, next.Items)
		if err != nil {
			return "", nil, err
		}
		event.Pricing = p
		return EventLineItemAdded, event, nil
	})
}

// SetQuantity sets a line's quantity. Zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, cartID, key string, quantity int) (cart *Cart, err error) {
	if quantity < 0 {
		s.metrics.CartMutation("set_quantity", ErrInvalidQuantity)
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if quantity == 0 {
		return s.Remove(ctx, cartID, key)
	}
	defer func() { s.metrics.CartMutation("set_quantity", err) }()

	return s.mutate(ctx, cartID, func(current *Cart) (string, any, error) {
		next := current.Clone()
		i := next.indexOf(key)
		if i < 0 {
			return "", nil, fmt.Errorf("%w: %s", ErrLineItemNotFound, key)
		}
		next.Items[i].Quantity = quantity

		p, err := s.reprice(ctx, next.Items)
		if err != nil {
			return "", nil, err
		}
		return EventLineItemQuantityChanged, LineItemQuantityChanged{
			CartID:    cartID,
			Key:       key,
			Quantity:  quantity,
			Pricing:   p,
			ChangedAt: s.now(),
		}, nil
	})
}

func (s *Service) Remove(ctx context.Context, cartID, key string) (cart *Cart, err error) {
	defer func() { s.metrics.CartMutation("remove", err) }()

	return s.mutate(ctx, cartID, func(current *Cart) (string, any, error) {
		next := current.Clone()
		i := next.indexOf(key)
		if i < 0 {
			return "", nil, fmt.Errorf("%w: %s", ErrLineItemNotFound, key)
		}
		next.Items = slices.Delete(next.Items, i, i+1)

		p, err := s.reprice(ctx, next.Items)
		if err != nil {
			return "", nil, err
		}
		return EventLineItemRemoved, LineItemRemoved{
			CartID:    cartID,
			Key:       key,
			Pricing:   p,
			RemovedAt: s.now(),
		}, nil
	})
}

// Clear empties the cart. Clearing an empty cart stores nothing.
func (s *Service) Clear(ctx context.Context, cartID string) (cart *Cart, err error) {
	defer func() { s.metrics.CartMutation("clear", err) }()

	return s.mutate(ctx, cartID, func(current *Cart) (string, any, error) {
		if current.IsEmpty() {
			return "", nil, nil
		}
		return EventCartCleared, CartCleared{CartID: cartID, ClearedAt: s.now()}, nil
	})
}

// RemoveOrdered removes the units of a paid order from the cart: each ordered
// line loses the ordered quantity, and lines the customer added or raised
// after checkout stay. It runs once per order; repeating it stores nothing.
func (s *Service) RemoveOrdered(ctx context.Context, cartID, orderID string, ordered map[string]int) (cart *Cart, err error) {
	defer func() { s.metrics.CartMutation("check_out", err) }()

	return s.mutate(ctx, cartID, func(current *Cart) (string, any, error) {
		if slices.Contains(current.CheckedOutOrders, orderID) {
			return "", nil, nil
		}

		next := current.Clone()
		remaining := make(map[string]int, len(ordered))
		for key, quantity := range ordered {
			i := next.indexOf(key)
			if i < 0 {
				continue
			}
			left := max(next.Items[i].Quantity-quantity, 0)
			remaining[key] = left
			if left == 0 {
				next.Items = slices.Delete(next.Items, i, i+1)
			} else {
				next.Items[i].Quantity = left
			}
		}

		p, err := s.reprice(ctx, next.Items)
		if err != nil {
			return "", nil, err
		}
		return EventCartCheckedOut, CartCheckedOut{
			CartID:       cartID,
			OrderID:      orderID,
			Quantities:   remaining,
			Pricing:      p,
			CheckedOutAt: s.now(),
		}, nil
	})
}

// mutateFunc derives the event for a mutation from the current cart. An empty
// event type means there is nothing to store.
type mutateFunc func(current *Cart) (eventType string, data any, err error)

// mutate runs fn under the cart's lock and appends its event at the version
// fn saw. On a version conflict the cart is re-read and fn runs again.
func (s *Service) mutate(ctx context.Context, cartID string, fn mutateFunc) (*Cart, error) {
	unlock := s.locks.Lock(cartID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		cart, err := s.Get(ctx, cartID)
		if err != nil {
			return nil, err
		}

		eventType, data, err := fn(cart)
		if err != nil {
			return nil, err
		}
		if eventType == "" {
			return cart, nil
		}

		stored, err := s.eventStore.Append(ctx, cartID, AggregateType, eventType, cart.Version, data)
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxConflictRetries {
			s.metrics.VersionConflict()
			s.logger.Debug("version conflict, retrying",
				zap.String("cart_id", cartID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := cart.ApplyEvent(*stored); err != nil {
			return nil, fmt.Errorf("failed to apply event: %w", err)
		}
		if err := aggregate.SnapshotIfDue(ctx, s.eventStore, AggregateType, cart); err != nil {
			s.logger.Warn("failed to create snapshot", zap.String("cart_id", cartID), zap.Error(err))
		}
		return cart, nil
	}
}

// reprice prices every line from the catalog. A line whose variant or add-on
// has left the catalog keeps its last unit price, so the customer can still
// edit the rest of the cart; checkout rejects it.
func (s *Service) reprice(ctx context.Context, items []LineItem) (Pricing, error) {
	p := Pricing{UnitPrices: make(map[string]pricing.Money, len(items))}
	for _, li := range items {
		quote, err := s.quoter.Quote(ctx, li.VariantID, li.AddOnIDs(), li.Quantity)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			s.logger.Warn("line no longer in catalog, keeping last unit price",
				zap.String("key", li.Key),
				zap.String("variant_id", li.VariantID),
				zap.Error(err))
			p.UnitPrices[li.Key] = li.UnitPrice
			p.Total += li.UnitPrice * pricing.Money(li.Quantity)
		case err != nil:
			return Pricing{}, err
		default:
			p.UnitPrices[li.Key] = quote.UnitPrice
			p.Total += quote.Total
		}
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, cartID string) (*Cart, bool, error) {
	return aggregate.Load(ctx, s.eventStore, AggregateType, cartID, func() *Cart {
		return &Cart{Items: []LineItem{}}
	})
}

func validateBaseIngredients(states []BaseIngredientState) error {
	for _, b := range states {
		if b.IsDisabled && !b.Removable {
			return fmt.Errorf("%w: %s", ErrInvalidIngredientState, b.ID)
		}
	}
	return nil
}

func sameConfiguration(a, b []BaseIngredientState) bool {
	disabled := func(states []BaseIngredientState) []string {
		var ids []string
		for _, s := range states {
			if s.IsDisabled {
				ids = append(ids, s.ID)
			}
		}
		slices.Sort(ids)
		return ids
	}
	return slices.Equal(disabled(a), disabled(b))
}

// AddOnSnapshots copies catalog add-ons into line snapshots.
func AddOnSnapshots(addOns []catalog.AddOn) []AddOnSnapshot {
	out := make([]AddOnSnapshot, len(addOns))
	for i, a := range addOns {
		out[i] = AddOnSnapshot{ID: a.ID, Name: a.Name, Price: a.Price, ImageURL: a.ImageURL}
	}
	return out
}
