package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPGateway calls the payment provider's REST API behind a circuit breaker.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	logger = logger.With(zap.String("component", "payment_gateway"))
	settings := gobreaker.Settings{
		Name:        "PaymentProvider",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// A rejected session is the provider working correctly.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

type createSessionRequest struct {
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
}

func (g *HTTPGateway) CreateSession(ctx context.Context, orderID string, total pricing.Money) (*Session, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.createSession(ctx, orderID, total)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("Circuit breaker open", zap.String("order_id", orderID))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*Session), nil
}

func (g *HTTPGateway) createSession(ctx context.Context, orderID string, total pricing.Money) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{OrderID: orderID, Amount: total.String()})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", orderID)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode session: %w", apperr.ErrTransient, err)
	}
	s.OrderID = orderID
	return &s, nil
}
