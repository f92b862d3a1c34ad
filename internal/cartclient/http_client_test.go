package cartclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_RemembersMintedCartToken(t *testing.T) {
	var seenToken string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /carts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderCartToken, "minted")
		writeJSON(w, http.StatusCreated, cart.Cart{ID: "cart-anonymous-minted"})
	})
	mux.HandleFunc("GET /carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenToken = r.Header.Get(HeaderCartToken)
		writeJSON(w, http.StatusOK, cart.Cart{ID: r.PathValue("id"), Total: 950})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client())

	created, err := client.CreateCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cart-anonymous-minted", created.ID)
	assert.Equal(t, "minted", client.CartToken())

	got, err := client.GetCart(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(950), got.Total)
	assert.Equal(t, "minted", seenToken)
}

func TestHTTPClient_AddItemSendsIdempotencyKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /carts/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer signed", r.Header.Get("Authorization"))
		assert.Equal(t, "token-1", r.Header.Get(HeaderIdempotencyKey))

		var body AddItem
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "V", body.VariantID)
		assert.Equal(t, []string{"A"}, body.AddOnIDs)

		writeJSON(w, http.StatusOK, cart.Cart{
			ID:    r.PathValue("id"),
			Items: []cart.LineItem{{Key: "k", VariantID: "V", Quantity: 1, UnitPrice: 950}},
			Total: 950,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client())
	client.SetBearerToken("signed")

	c, err := client.AddItem(context.Background(), "cart-user-1", AddItem{VariantID: "V", AddOnIDs: []string{"A"}}, "token-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, pricing.Money(950), c.Total)
}

func TestHTTPClient_SetQuantityAndRemove(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /carts/{id}/items/{key}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Quantity int `json:"quantity"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "k 1", r.PathValue("key"))
		writeJSON(w, http.StatusOK, cart.Cart{ID: r.PathValue("id"), Items: []cart.LineItem{{Key: "k 1", Quantity: body.Quantity}}})
	})
	mux.HandleFunc("DELETE /carts/{id}/items/{key}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cart.Cart{ID: r.PathValue("id")})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := NewHTTPClient(srv.URL, srv.Client())

	c, err := client.SetQuantity(context.Background(), "c1", "k 1", 3, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Items[0].Quantity)

	c, err = client.RemoveItem(context.Background(), "c1", "k 1", "t2")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestHTTPClient_ErrorCategories(t *testing.T) {
	tests := []struct {
		status   int
		category error
	}{
		{http.StatusNotFound, apperr.ErrNotFound},
		{http.StatusBadRequest, apperr.ErrValidation},
		{http.StatusUnprocessableEntity, apperr.ErrValidation},
		{http.StatusConflict, apperr.ErrConflict},
		{http.StatusServiceUnavailable, apperr.ErrTransient},
		{http.StatusInternalServerError, apperr.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "nope", "code": "x"})
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, srv.Client()).GetCart(context.Background(), "c1")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.category)
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Message)
		})
	}
}

func TestHTTPClient_ForbiddenIsUncategorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not your cart"})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, srv.Client()).GetCart(context.Background(), "c1")

	require.Error(t, err)
	assert.Nil(t, apperr.Category(err))
	assert.False(t, apperr.IsRetryable(err))
}

func TestHTTPClient_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, nil).GetCart(context.Background(), "c1")

	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}
