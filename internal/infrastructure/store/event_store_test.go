package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	failed bool
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	if p.failed {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestEventStore_AppendAssignsVersions(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	first, err := es.Append(ctx, "cart-1", "Cart", "CartCreated", NoVersion, map[string]string{"a": "b"})
	require.NoError(t, err)
	second, err := es.Append(ctx, "cart-1", "Cart", "LineItemAdded", 1, map[string]string{"c": "d"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.NotEmpty(t, first.ID)
	assert.JSONEq(t, `{"a":"b"}`, string(first.Data))

	events, err := es.GetEvents(ctx, "cart-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventStore_AppendRejectsStaleVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	_, err := es.Append(ctx, "cart-1", "Cart", "CartCreated", NoVersion, struct{}{})
	require.NoError(t, err)

	_, err = es.Append(ctx, "cart-1", "Cart", "LineItemAdded", NoVersion, struct{}{})

	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestEventStore_ConcurrentAppendsSameVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := es.Append(ctx, "cart-1", "Cart", "CartCreated", NoVersion, struct{}{}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestEventStore_GetEventsFromVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	for v := 0; v < 5; v++ {
		_, err := es.Append(ctx, "order-1", "Order", "E", v, struct{}{})
		require.NoError(t, err)
	}

	events, err := es.GetEventsFromVersion(ctx, "order-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Version)
	assert.Equal(t, 5, events[1].Version)

	none, err := es.GetEventsFromVersion(ctx, "order-1", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventStore_PublishFailureDoesNotFailAppend(t *testing.T) {
	pub := &recordingPublisher{failed: true}
	es := NewEventStore(pub, zap.NewNop())

	event, err := es.Append(context.Background(), "cart-1", "Cart", "CartCreated", NoVersion, struct{}{})

	require.NoError(t, err)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, []string{"cart-1"}, pub.keys)
}
