package api

import (
	"context"
	"net/http"
	"time"

	"github.com/example/ec-ordering/internal/api/middleware"
	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handlers       *Handlers
	JWT            *auth.JWTService
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RequestTimeout time.Duration
	// Ready reports whether the dependencies can serve traffic. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(cfg.Logger, cfg.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz(cfg.Ready))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		r.Use(middleware.ResolveOwner(cfg.JWT))

		r.Post("/carts", h.CreateCart)
		r.Route("/carts/{cartID}", func(r chi.Router) {
			r.Use(middleware.RequireOwner)
			r.Use(requireCartOwner)

			r.Get("/", h.GetCart)
			r.Post("/items", h.AddToCart)
			r.Put("/items/{key}", h.SetQuantity)
			r.Delete("/items/{key}", h.RemoveFromCart)
			r.Post("/checkout", h.Checkout)
		})

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.With(middleware.RequireOwner).Get("/", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleService))
				r.Post("/payment", h.ConfirmPayment)
				r.Post("/status", h.UpdateOrderStatus)
				r.Put("/delivery-time", h.SetDeliveryTime)
			})
		})
	})

	return r
}

// requireCartOwner rejects access to a cart that is not the caller's. Cart
// ids are derived from the owner, so no lookup is needed.
func requireCartOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.GetOwner(r.Context())
		if chi.URLParam(r, "cartID") != cart.GetCartID(owner) {
			respondError(w, http.StatusForbidden, "forbidden", "cart belongs to another owner")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
