package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-ordering/internal/apperr"
)

// NoVersion is the expected version of an aggregate that has no events yet.
const NoVersion = 0

var (
	// ErrVersionConflict is returned by Append when another writer appended to
	// the aggregate after the caller loaded it.
	ErrVersionConflict = apperr.New(apperr.ErrConflict, "aggregate version conflict")
)

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	// Append stores one event for the aggregate if its current version equals
	// expectedVersion. The stored event carries version expectedVersion+1.
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, version int) ([]Event, error)
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}

// Publisher receives every event after it has been stored.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

func transient(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperr.ErrTransient, op, err)
}
