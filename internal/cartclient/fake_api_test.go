package cartclient

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/catalog"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/idempotency"
	"github.com/example/ec-ordering/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAPI serves the cart API from an in-process command handler. Calls can
// be held at a gate, failed, or have their response dropped after the
// mutation was applied.
type fakeAPI struct {
	handler *command.Handler
	cartID  string

	mu            sync.Mutex
	gate          chan struct{}
	errs          []error
	loseResponses int
	ops           []string
	tokens        []string
	inFlight      int
	maxInFlight   int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	cat := catalog.NewMemoryCatalog()
	cat.PutVariant(catalog.Variant{ID: "V", Name: "Margherita", BasePrice: decimal.RequireFromString("8.00")})
	cat.PutVariant(catalog.Variant{ID: "W", Name: "Pepperoni", BasePrice: decimal.RequireFromString("11.25")})
	cat.PutAddOn(catalog.AddOn{ID: "A", Name: "Mozzarella", Price: decimal.RequireFromString("1.50")})

	svc := cart.NewService(mocks.NewMockEventStore(), catalog.NewPricer(cat), nil, zap.NewNop())
	h := command.NewHandler(svc, idempotency.NewMemoryStore(time.Hour), nil, zap.NewNop())
	c, err := h.CreateCart(context.Background(), command.CreateCart{Owner: cart.Owner{Kind: cart.OwnerAnonymous, ID: "token-1"}})
	require.NoError(t, err)
	return &fakeAPI{handler: h, cartID: c.ID}
}

func (f *fakeAPI) hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

// release lets one held call through.
func (f *fakeAPI) release(t *testing.T) {
	t.Helper()
	select {
	case f.gate <- struct{}{}:
	case <-time.After(time.Second):
		t.Fatal("no call waiting at the gate")
	}
}

func (f *fakeAPI) failNext(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

func (f *fakeAPI) calls() (ops, tokens []string, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...), append([]string(nil), f.tokens...), f.maxInFlight
}

func (f *fakeAPI) call(ctx context.Context, op, token string, apply func() (*cart.Cart, error)) (*cart.Cart, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.ops = append(f.ops, op)
	f.tokens = append(f.tokens, token)
	var injected error
	if len(f.errs) > 0 {
		injected, f.errs = f.errs[0], f.errs[1:]
	}
	lose := f.loseResponses > 0
	if lose {
		f.loseResponses--
	}
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if injected != nil {
		return nil, injected
	}
	c, err := apply()
	if err == nil && lose {
		return nil, fmt.Errorf("%w: connection reset", apperr.ErrTransient)
	}
	return c, err
}

func (f *fakeAPI) CreateCart(ctx context.Context) (*cart.Cart, error) {
	return f.handler.CreateCart(ctx, command.CreateCart{Owner: cart.Owner{Kind: cart.OwnerAnonymous, ID: "token-1"}})
}

func (f *fakeAPI) GetCart(ctx context.Context, cartID string) (*cart.Cart, error) {
	return f.handler.GetCart(ctx, cartID)
}

func (f *fakeAPI) AddItem(ctx context.Context, cartID string, item AddItem, idempotencyKey string) (*cart.Cart, error) {
	return f.call(ctx, "add", idempotencyKey, func() (*cart.Cart, error) {
		return f.handler.AddToCart(ctx, command.AddToCart{
			CartID:          cartID,
			VariantID:       item.VariantID,
			AddOnIDs:        item.AddOnIDs,
			BaseIngredients: item.BaseIngredients,
			IdempotencyKey:  idempotencyKey,
		})
	})
}

func (f *fakeAPI) SetQuantity(ctx context.Context, cartID, key string, quantity int, idempotencyKey string) (*cart.Cart, error) {
	return f.call(ctx, "set_quantity", idempotencyKey, func() (*cart.Cart, error) {
		return f.handler.SetQuantity(ctx, command.SetQuantity{CartID: cartID, Key: key, Quantity: quantity, IdempotencyKey: idempotencyKey})
	})
}

func (f *fakeAPI) RemoveItem(ctx context.Context, cartID, key, idempotencyKey string) (*cart.Cart, error) {
	return f.call(ctx, "remove", idempotencyKey, func() (*cart.Cart, error) {
		return f.handler.RemoveFromCart(ctx, command.RemoveFromCart{CartID: cartID, Key: key, IdempotencyKey: idempotencyKey})
	})
}
