// Package payment creates payment sessions with the external payment
// provider.
package payment

import (
	"context"
	"sync"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/google/uuid"
)

var (
	ErrUnavailable = apperr.New(apperr.ErrTransient, "payment provider unavailable")
	ErrRejected    = apperr.New(apperr.ErrValidation, "payment provider rejected the session")
)

// Session is where the customer completes the payment.
type Session struct {
	ID          string `json:"session_id"`
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

type Gateway interface {
	CreateSession(ctx context.Context, orderID string, total pricing.Money) (*Session, error)
}

// FakeGateway accepts every session. It serves local environments without a
// payment provider and tests.
type FakeGateway struct {
	mu       sync.Mutex
	Err      error
	Sessions []Session
}

func (g *FakeGateway) CreateSession(_ context.Context, orderID string, _ pricing.Money) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	s := Session{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		RedirectURL: "http://localhost/pay/" + orderID,
	}
	g.Sessions = append(g.Sessions, s)
	return &s, nil
}

// Calls returns the number of sessions created.
func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Sessions)
}
