// Package aggregate rebuilds event-sourced aggregates from a snapshot and the
// events recorded after it.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/infrastructure/store"
)

// Aggregate is implemented by carts and orders.
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// ErrBrokenStream means the stored versions of an aggregate are not
// contiguous. It is never retried.
var ErrBrokenStream = errors.New("event stream is not contiguous")

// Load returns the aggregate id of type aggregateType. found is false when
// the aggregate has neither a snapshot nor events. A snapshot written for a
// different aggregate type is ignored and the stream is replayed from the
// start.
func Load[T Aggregate](
	ctx context.Context,
	es store.EventStoreInterface,
	aggregateType, id string,
	newAggregate func() T,
) (agg T, found bool, err error) {
	agg = newAggregate()

	snap, err := es.GetSnapshot(ctx, id)
	if err != nil {
		return agg, false, fmt.Errorf("load %s %s snapshot: %w", aggregateType, id, err)
	}
	if snap != nil && snap.AggregateType != aggregateType {
		snap = nil
	}
	if snap != nil {
		if err := json.Unmarshal(snap.State, agg); err != nil {
			return agg, false, fmt.Errorf("decode %s %s snapshot: %w", aggregateType, id, err)
		}
		agg.SetVersion(snap.Version)
		found = true
	}

	events, err := es.GetEventsFromVersion(ctx, id, agg.GetVersion())
	if err != nil {
		return agg, false, fmt.Errorf("load %s %s events: %w", aggregateType, id, err)
	}
	for _, event := range events {
		if event.Version != agg.GetVersion()+1 {
			return agg, false, fmt.Errorf("%w: %s %s expected version %d, got %d",
				ErrBrokenStream, aggregateType, id, agg.GetVersion()+1, event.Version)
		}
		if err := agg.ApplyEvent(event); err != nil {
			return agg, false, fmt.Errorf("apply %s to %s %s: %w", event.EventType, aggregateType, id, err)
		}
		agg.SetVersion(event.Version)
		found = true
	}
	return agg, found, nil
}

// SnapshotIfDue stores the aggregate state every store.SnapshotThreshold
// versions.
func SnapshotIfDue(ctx context.Context, es store.EventStoreInterface, aggregateType string, agg Aggregate) error {
	version := agg.GetVersion()
	if !store.SnapshotDue(version) {
		return nil
	}

	state, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode %s %s snapshot: %w", aggregateType, agg.GetID(), err)
	}
	return es.SaveSnapshot(ctx, &store.Snapshot{
		AggregateID:   agg.GetID(),
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	})
}
