package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/composition"
	"github.com/example/ec-ordering/internal/idempotency"
	"github.com/example/ec-ordering/internal/metrics"
	"go.uber.org/zap"
)

// Handler is the cart mutation service. A command that carries an
// idempotency key is applied at most once per key; repeats return the cart
// produced by the first application.
type Handler struct {
	cartSvc     *cart.Service
	idempotency idempotency.Store
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewHandler(
	cartSvc *cart.Service,
	idem idempotency.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cartSvc:     cartSvc,
		idempotency: idem,
		metrics:     m,
		logger:      logger.With(zap.String("component", "command_handler")),
	}
}

// CreateCart returns the owner's cart, creating it if needed
func (h *Handler) CreateCart(ctx context.Context, cmd CreateCart) (*cart.Cart, error) {
	return h.cartSvc.Create(ctx, cmd.Owner)
}

// GetCart returns the full line-item list and the authoritative total
func (h *Handler) GetCart(ctx context.Context, cartID string) (*cart.Cart, error) {
	return h.cartSvc.Get(ctx, cartID)
}

// AddToCart adds one unit of a composition, or increments its line
func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Cart, error) {
	return h.once(ctx, "add", cmd.CartID, cmd.IdempotencyKey, addFingerprint(cmd), func() (*cart.Cart, error) {
		return h.cartSvc.AddOrIncrement(ctx, cmd.CartID, cmd.VariantID, cmd.AddOnIDs, cmd.BaseIngredients)
	})
}

// SetQuantity sets a line's quantity; zero removes it
func (h *Handler) SetQuantity(ctx context.Context, cmd SetQuantity) (*cart.Cart, error) {
	return h.once(ctx, "set_quantity", cmd.CartID, cmd.IdempotencyKey, cmd, func() (*cart.Cart, error) {
		return h.cartSvc.SetQuantity(ctx, cmd.CartID, cmd.Key, cmd.Quantity)
	})
}

// RemoveFromCart removes a line
func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*cart.Cart, error) {
	return h.once(ctx, "remove", cmd.CartID, cmd.IdempotencyKey, cmd, func() (*cart.Cart, error) {
		return h.cartSvc.Remove(ctx, cmd.CartID, cmd.Key)
	})
}

// addFingerprint is the part of an add that identifies it. Add-ons are a set,
// like in the line key.
func addFingerprint(cmd AddToCart) AddToCart {
	cmd.AddOnIDs = composition.AddOnSet(cmd.AddOnIDs)
	if len(cmd.AddOnIDs) == 0 {
		cmd.AddOnIDs = nil
	}
	return cmd
}

// once runs apply unless the key was already used for this cart. Keys are
// scoped per cart, so two carts never share one.
func (h *Handler) once(ctx context.Context, op, cartID, key string, payload any, apply func() (*cart.Cart, error)) (*cart.Cart, error) {
	if key == "" {
		return apply()
	}

	storeKey := cartID + ":" + key
	fingerprint, err := idempotency.Fingerprint(op, payload)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", op, err)
	}

	rec, err := h.idempotency.Begin(ctx, storeKey, fingerprint)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		var replayed cart.Cart
		if err := json.Unmarshal(rec.Result, &replayed); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		h.metrics.IdempotentReplay()
		h.logger.Debug("idempotent replay", zap.String("cart_id", cartID), zap.String("operation", op))
		return &replayed, nil
	}

	c, err := apply()
	if err != nil {
		if relErr := h.idempotency.Release(ctx, storeKey); relErr != nil {
			h.logger.Warn("failed to release idempotency key", zap.String("cart_id", cartID), zap.Error(relErr))
		}
		return nil, err
	}

	result, err := json.Marshal(c)
	if err == nil {
		err = h.idempotency.Complete(ctx, storeKey, fingerprint, result)
	}
	if err != nil {
		// The mutation is stored; a retry will see ErrInFlight until the
		// pending key expires rather than apply it twice.
		h.logger.Error("failed to record idempotent result", zap.String("cart_id", cartID), zap.Error(err))
	}
	return c, nil
}
