package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/ec-ordering/internal/api/middleware"
	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/checkout"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Handlers struct {
	cmdHandler *command.Handler
	checkout   *checkout.Service
	orders     *order.Service
	validate   *validator.Validate
	logger     *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, checkoutSvc *checkout.Service, orders *order.Service, logger *zap.Logger) *Handlers {
	return &Handlers{
		cmdHandler: cmdHandler,
		checkout:   checkoutSvc,
		orders:     orders,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With(zap.String("component", "api")),
	}
}

// Request DTOs

type baseIngredientRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"max=200"`
	ImageURL   string `json:"image_url" validate:"omitempty,url"`
	Removable  bool   `json:"removable"`
	IsDisabled bool   `json:"is_disabled"`
}

type addItemRequest struct {
	VariantID       string                  `json:"variant_id" validate:"required,max=64"`
	AddOnIDs        []string                `json:"add_on_ids" validate:"max=50,dive,required,max=64"`
	BaseIngredients []baseIngredientRequest `json:"base_ingredients" validate:"max=50,dive"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=99"`
}

type checkoutRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Address string `json:"address" validate:"required,max=500"`
	Comment string `json:"comment" validate:"max=1000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing ready succeeded cancelled"`
	Reason string `json:"reason" validate:"max=500"`
}

type deliveryTimeRequest struct {
	DeliveryTime time.Time `json:"delivery_time" validate:"required"`
}

type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Cart Handlers

// CreateCart returns the caller's cart. A caller without credentials gets a
// new anonymous cart token in the X-Cart-Token header and cart_token cookie.
func (h *Handlers) CreateCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		owner = cart.Owner{Kind: cart.OwnerAnonymous, ID: uuid.NewString()}
		w.Header().Set(middleware.HeaderCartToken, owner.ID)
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.CartTokenCookie,
			Value:    owner.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		})
	}

	c, err := h.cmdHandler.CreateCart(r.Context(), command.CreateCart{Owner: owner})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.GetCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	baseIngredients := make([]cart.BaseIngredientState, len(req.BaseIngredients))
	for i, b := range req.BaseIngredients {
		baseIngredients[i] = cart.BaseIngredientState(b)
	}

	c, err := h.cmdHandler.AddToCart(r.Context(), command.AddToCart{
		CartID:          chi.URLParam(r, "cartID"),
		VariantID:       req.VariantID,
		AddOnIDs:        req.AddOnIDs,
		BaseIngredients: baseIngredients,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	c, err := h.cmdHandler.SetQuantity(r.Context(), command.SetQuantity{
		CartID:         chi.URLParam(r, "cartID"),
		Key:            chi.URLParam(r, "key"),
		Quantity:       *req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	c, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		CartID:         chi.URLParam(r, "cartID"),
		Key:            chi.URLParam(r, "key"),
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Checkout snapshots the cart into a pending order and opens a payment
// session. The cart is left as is until the payment is confirmed.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.checkout.Checkout(r.Context(), chi.URLParam(r, "cartID"), order.Contact(req))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// Order Handlers

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	owner, _ := middleware.GetOwner(r.Context())
	if o.Owner != owner && !middleware.HasRole(r.Context(), auth.RoleService) {
		respondError(w, http.StatusForbidden, "forbidden", "order belongs to another owner")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// ConfirmPayment is called by the payment service once the order is paid.
func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.ConfirmPayment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, _ := order.ParseStatus(req.Status)

	o, err := h.orders.Transition(r.Context(), chi.URLParam(r, "orderID"), status, req.Reason)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) SetDeliveryTime(w http.ResponseWriter, r *http.Request) {
	var req deliveryTimeRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := h.orders.SetDeliveryTime(r.Context(), chi.URLParam(r, "orderID"), req.DeliveryTime)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Helper functions

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "validation failed",
				Code:   "invalid_request",
				Fields: formatValidationErrors(verrs),
			})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (h *Handlers) idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if err := h.validate.Var(key, "omitempty,max=128,printascii"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key must be printable ASCII of at most 128 characters")
		return "", false
	}
	return key, true
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		switch fe.Tag() {
		case "required":
			fields[field] = "is required"
		case "gte", "lte", "max":
			fields[field] = "must be " + fe.Tag() + " " + fe.Param()
		case "oneof":
			fields[field] = "must be one of " + fe.Param()
		default:
			fields[field] = "is invalid"
		}
	}
	return fields
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondErr maps err to a status by its error category. Checkout guards are
// 422 so clients can tell them from malformed requests.
func (h *Handlers) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, checkout.ErrInvalidTotal):
		respondError(w, http.StatusUnprocessableEntity, "invalid_total", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperr.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperr.ErrTransient):
		h.logger.Warn("transient failure", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
