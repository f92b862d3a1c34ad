// Package cartclient is the client side of the cart API: an HTTP client, an
// optimistic reconciler that renders predictions before the server answers,
// and a coalescer that folds bursts of quantity clicks into one call.
package cartclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
)

// API is the exposed cart mutation surface. Every mutation carries an
// idempotency key; retrying with the same key is applied at most once.
type API interface {
	CreateCart(ctx context.Context) (*cart.Cart, error)
	GetCart(ctx context.Context, cartID string) (*cart.Cart, error)
	AddItem(ctx context.Context, cartID string, item AddItem, idempotencyKey string) (*cart.Cart, error)
	SetQuantity(ctx context.Context, cartID, key string, quantity int, idempotencyKey string) (*cart.Cart, error)
	RemoveItem(ctx context.Context, cartID, key, idempotencyKey string) (*cart.Cart, error)
}

// AddItem is the body of an add-or-increment request.
type AddItem struct {
	VariantID       string                     `json:"variant_id"`
	AddOnIDs        []string                   `json:"add_on_ids,omitempty"`
	BaseIngredients []cart.BaseIngredientState `json:"base_ingredients,omitempty"`
}

// StatusError is a non-2xx API response. It unwraps to the error category of
// its status code.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cart api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return apperr.ErrNotFound
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return apperr.ErrValidation
	case e.StatusCode == http.StatusConflict:
		return apperr.ErrConflict
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout, e.StatusCode >= 500:
		return apperr.ErrTransient
	}
	return nil
}

var (
	ErrClosed  = errors.New("cartclient: closed")
	ErrTimeout = apperr.New(apperr.ErrTransient, "cartclient: mutation timed out")
)
