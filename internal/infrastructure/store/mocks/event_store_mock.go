package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-ordering/internal/infrastructure/store"
	"go.uber.org/zap"
)

// MockEventStore is an in-memory EventStoreInterface that records calls and
// lets tests inject failures.
type MockEventStore struct {
	mu    sync.Mutex
	inner *store.EventStore

	// For tracking calls in tests
	AppendCalls    []AppendCall
	AppendErr      error
	AppendCallback func(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error)
	GetErr         error
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	ExpectedVersion int
	Data            any
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		inner:       store.NewEventStore(nil, zap.NewNop()),
		AppendCalls: make([]AppendCall, 0),
	}
}

// Append records the call, then applies the injected behavior or stores the
// event in memory.
func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		ExpectedVersion: expectedVersion,
		Data:            data,
	})
	callback, appendErr := m.AppendCallback, m.AppendErr
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
	}
	if appendErr != nil {
		return nil, appendErr
	}
	return m.inner.Append(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
}

// ForceAppend stores an event bypassing recording and injected failures.
func (m *MockEventStore) ForceAppend(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	return m.inner.Append(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
}

func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	if err := m.getErr(); err != nil {
		return nil, err
	}
	return m.inner.GetEvents(ctx, aggregateID)
}

func (m *MockEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, version int) ([]store.Event, error) {
	if err := m.getErr(); err != nil {
		return nil, err
	}
	return m.inner.GetEventsFromVersion(ctx, aggregateID, version)
}

func (m *MockEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	if err := m.getErr(); err != nil {
		return nil, err
	}
	return m.inner.GetSnapshot(ctx, aggregateID)
}

func (m *MockEventStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	return m.inner.SaveSnapshot(ctx, snapshot)
}

// Calls returns a copy of the recorded Append calls.
func (m *MockEventStore) Calls() []AppendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AppendCall(nil), m.AppendCalls...)
}

// SetAppendErr makes every following Append fail with err (nil clears it).
func (m *MockEventStore) SetAppendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendErr = err
}

// Reset clears all recorded calls and injected behavior
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = make([]AppendCall, 0)
	m.AppendErr = nil
	m.AppendCallback = nil
	m.GetErr = nil
}

func (m *MockEventStore) getErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetErr
}
