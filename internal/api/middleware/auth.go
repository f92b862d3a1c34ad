// Package middleware resolves who is calling the API and records each
// request.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/domain/cart"
)

const (
	HeaderCartToken = "X-Cart-Token"
	CartTokenCookie = "cart_token"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// ExtractToken extracts the bearer JWT from the Authorization header or the
// access_token cookie.
func ExtractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// ExtractCartToken returns the anonymous cart token from the X-Cart-Token
// header or the cart_token cookie.
func ExtractCartToken(r *http.Request) string {
	if token := r.Header.Get(HeaderCartToken); token != "" {
		return token
	}
	if cookie, err := r.Cookie(CartTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

type contextKey string

const (
	UserContextKey  contextKey = "user"
	OwnerContextKey contextKey = "owner"
)

// ResolveOwner identifies the cart owner. A valid bearer token makes the
// caller a user owner; an invalid one is rejected. Without a bearer token an
// anonymous cart token makes the caller an anonymous owner. Requests with
// neither pass through without an owner.
func ResolveOwner(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tokenString := ExtractToken(r); tokenString != "" {
				claims, err := jwtService.ValidateAccessToken(tokenString)
				if err != nil {
					respondError(w, "unauthenticated", "invalid token", http.StatusUnauthorized)
					return
				}
				ctx = context.WithValue(ctx, UserContextKey, claims)
				ctx = WithOwner(ctx, cart.Owner{Kind: cart.OwnerUser, ID: claims.UserID})
			} else if token := ExtractCartToken(r); token != "" {
				ctx = WithOwner(ctx, cart.Owner{Kind: cart.OwnerAnonymous, ID: token})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwner rejects requests without a resolved owner.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetOwner(r.Context()); !ok {
			respondError(w, "unauthenticated", "missing bearer or cart token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole checks if the user has one of the required roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				respondError(w, "unauthenticated", "unauthorized", http.StatusUnauthorized)
				return
			}
			if !claims.HasRole(roles...) {
				respondError(w, "forbidden", "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithOwner stores owner in ctx.
func WithOwner(ctx context.Context, owner cart.Owner) context.Context {
	return context.WithValue(ctx, OwnerContextKey, owner)
}

func GetOwner(ctx context.Context) (cart.Owner, bool) {
	owner, ok := ctx.Value(OwnerContextKey).(cart.Owner)
	return owner, ok
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok
}

// HasRole reports whether the caller is signed in with one of roles.
func HasRole(ctx context.Context, roles ...string) bool {
	claims, ok := GetUserFromContext(ctx)
	return ok && claims.HasRole(roles...)
}
