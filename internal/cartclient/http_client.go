package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/checkout"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/order"
)

const (
	HeaderCartToken      = "X-Cart-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// HTTPClient talks to the cart API over HTTP. An anonymous cart token minted
// by the server is remembered and sent on later requests.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	bearer    string
	cartToken string
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient}
}

// SetBearerToken authenticates later requests as a signed-in user.
func (c *HTTPClient) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

func (c *HTTPClient) SetCartToken(token string) {
	c.mu.Lock()
	c.cartToken = token
	c.mu.Unlock()
}

func (c *HTTPClient) CartToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cartToken
}

func (c *HTTPClient) CreateCart(ctx context.Context) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.do(ctx, http.MethodPost, "/carts", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetCart(ctx context.Context, cartID string) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.do(ctx, http.MethodGet, cartPath(cartID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AddItem(ctx context.Context, cartID string, item AddItem, idempotencyKey string) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.do(ctx, http.MethodPost, cartPath(cartID)+"/items", idempotencyKey, item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SetQuantity(ctx context.Context, cartID, key string, quantity int, idempotencyKey string) (*cart.Cart, error) {
	body := struct {
		Quantity int `json:"quantity"`
	}{quantity}
	var out cart.Cart
	if err := c.do(ctx, http.MethodPut, itemPath(cartID, key), idempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RemoveItem(ctx context.Context, cartID, key, idempotencyKey string) (*cart.Cart, error) {
	var out cart.Cart
	if err := c.do(ctx, http.MethodDelete, itemPath(cartID, key), idempotencyKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkout snapshots the cart into an order and returns the payment session.
func (c *HTTPClient) Checkout(ctx context.Context, cartID string, contact order.Contact) (*checkout.Result, error) {
	var out checkout.Result
	if err := c.do(ctx, http.MethodPost, cartPath(cartID)+"/checkout", "", contact, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func cartPath(cartID string) string {
	return "/carts/" + url.PathEscape(cartID)
}

func itemPath(cartID, key string) string {
	return cartPath(cartID) + "/items/" + url.PathEscape(key)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	c.mu.Lock()
	bearer, token := c.bearer, c.cartToken
	c.mu.Unlock()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if token != "" {
		req.Header.Set(HeaderCartToken, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", apperr.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if minted := resp.Header.Get(HeaderCartToken); minted != "" {
		c.SetCartToken(minted)
	}

	if resp.StatusCode >= 400 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
