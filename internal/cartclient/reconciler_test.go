package cartclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/composition"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var margheritaWithMozzarella = AddItem{VariantID: "V", AddOnIDs: []string{"A"}}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newLoadedReconciler(t *testing.T, api *fakeAPI, opts Options) *Reconciler {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	r := NewReconciler(api, api.cartID, opts)
	t.Cleanup(r.Close)
	_, err := r.Load(context.Background())
	require.NoError(t, err)
	return r
}

func TestReconciler_PredictsThenConfirms(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{})
	api.hold()

	m := r.AddItem(margheritaWithMozzarella, 950)

	predicted := r.State()
	require.Len(t, predicted.Items, 1)
	assert.Equal(t, 1, predicted.Items[0].Quantity)
	assert.Equal(t, pricing.Money(950), predicted.Total)
	assert.Equal(t, Predicted, m.State())
	assert.Equal(t, composition.Key("V", []string{"A"}), m.Key())

	api.release(t)
	require.NoError(t, m.Wait(waitCtx(t)))
	assert.Equal(t, Confirmed, m.State())

	server, err := api.GetCart(context.Background(), api.cartID)
	require.NoError(t, err)
	confirmed := r.State()
	assert.Equal(t, server.Total, confirmed.Total)
	assert.Equal(t, server.Version, confirmed.Version)
	require.Len(t, confirmed.Items, 1)
	assert.Equal(t, server.Items[0].Key, confirmed.Items[0].Key)
	assert.Equal(t, "Mozzarella", confirmed.Items[0].AddOns[0].Name)
	assert.Zero(t, r.Pending())
}

func TestReconciler_RollbackRestoresExactState(t *testing.T) {
	api := newFakeAPI(t)
	errs := make(chan error, 1)
	r := newLoadedReconciler(t, api, Options{
		OnError: func(_ *Mutation, err error) { errs <- err },
	})

	require.NoError(t, r.AddItem(margheritaWithMozzarella, 950).Wait(waitCtx(t)))
	require.NoError(t, r.AddItem(AddItem{VariantID: "W"}, 1125).Wait(waitCtx(t)))

	before := r.State()
	key := before.Items[0].Key
	api.hold()
	api.failNext(apperr.New(apperr.ErrValidation, "rejected"))

	m := r.SetQuantity(key, 5)
	assert.Equal(t, 5, r.Quantity(key))
	assert.Equal(t, pricing.Money(5*950+1125), r.State().Total)

	api.release(t)
	err := m.Wait(waitCtx(t))

	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, RolledBack, m.State())
	assert.Equal(t, before, r.State())

	select {
	case got := <-errs:
		assert.ErrorIs(t, got, apperr.ErrValidation)
	case <-time.After(time.Second):
		t.Fatal("OnError was not called")
	}
}

func TestReconciler_TimeoutRollsBack(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{Timeout: 50 * time.Millisecond})
	before := r.State()
	api.hold()

	m := r.AddItem(margheritaWithMozzarella, 950)
	err := m.Wait(waitCtx(t))

	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, before, r.State())

	c, err := api.GetCart(context.Background(), api.cartID)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestReconciler_QueuedPredictionsRebase(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{})
	key := composition.Key("V", []string{"A"})
	api.hold()
	api.failNext(apperr.New(apperr.ErrValidation, "rejected"))

	m1 := r.AddItem(margheritaWithMozzarella, 950)
	m2 := r.AddItem(AddItem{VariantID: "V", AddOnIDs: []string{"A", "A"}}, 950)
	assert.Equal(t, 2, r.Quantity(key))
	assert.Equal(t, pricing.Money(1900), r.State().Total)
	assert.Equal(t, 2, r.Pending())

	api.release(t)
	require.Error(t, m1.Wait(waitCtx(t)))
	assert.Equal(t, 1, r.Quantity(key), "the queued prediction is replayed on the confirmed state")

	api.release(t)
	require.NoError(t, m2.Wait(waitCtx(t)))
	assert.Equal(t, 1, r.Quantity(key))
	assert.Equal(t, pricing.Money(950), r.State().Total)

	_, _, maxInFlight := api.calls()
	assert.Equal(t, 1, maxInFlight)
}

func TestReconciler_RetriesWithSameToken(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{MaxAttempts: 3})
	api.loseResponses = 1

	m := r.AddItem(margheritaWithMozzarella, 950)
	require.NoError(t, m.Wait(waitCtx(t)))

	_, tokens, _ := api.calls()
	require.Len(t, tokens, 2)
	assert.Equal(t, tokens[0], tokens[1])
	assert.Equal(t, m.Token(), tokens[0])

	key := composition.Key("V", []string{"A"})
	assert.Equal(t, 1, r.Quantity(key), "the lost response must not be applied twice")
	server, err := api.GetCart(context.Background(), api.cartID)
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(950), server.Total)
}

func TestReconciler_DoesNotRetryValidationErrors(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{MaxAttempts: 3})

	m := r.SetQuantity("missing", 2)
	require.ErrorIs(t, m.Wait(waitCtx(t)), apperr.ErrNotFound)

	ops, _, _ := api.calls()
	assert.Len(t, ops, 1)
}

func TestReconciler_NegativeQuantity(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{})

	m := r.SetQuantity("k", -1)

	assert.Equal(t, RolledBack, m.State())
	assert.ErrorIs(t, m.Err(), cart.ErrInvalidQuantity)
	ops, _, _ := api.calls()
	assert.Empty(t, ops)
}

func TestReconciler_RemoveAndZeroQuantity(t *testing.T) {
	api := newFakeAPI(t)
	r := newLoadedReconciler(t, api, Options{})
	require.NoError(t, r.AddItem(margheritaWithMozzarella, 950).Wait(waitCtx(t)))
	require.NoError(t, r.AddItem(AddItem{VariantID: "W"}, 1125).Wait(waitCtx(t)))
	state := r.State()

	require.NoError(t, r.SetQuantity(state.Items[0].Key, 0).Wait(waitCtx(t)))
	require.NoError(t, r.Remove(state.Items[1].Key).Wait(waitCtx(t)))

	final := r.State()
	assert.True(t, final.IsEmpty())
	assert.Equal(t, pricing.Money(0), final.Total)
}

func TestReconciler_CloseRollsBackPending(t *testing.T) {
	api := newFakeAPI(t)
	r := NewReconciler(api, api.cartID, Options{Timeout: time.Second})
	loaded, err := r.Load(context.Background())
	require.NoError(t, err)
	api.hold()

	m1 := r.AddItem(margheritaWithMozzarella, 950)
	m2 := r.AddItem(AddItem{VariantID: "W"}, 1125)
	r.Close()

	assert.ErrorIs(t, m1.Wait(waitCtx(t)), ErrClosed)
	assert.ErrorIs(t, m2.Wait(waitCtx(t)), ErrClosed)
	assert.Equal(t, loaded, r.State())

	m3 := r.AddItem(margheritaWithMozzarella, 950)
	assert.Equal(t, RolledBack, m3.State())
	assert.ErrorIs(t, m3.Err(), ErrClosed)

	r.Close()
}

func TestReconciler_OnChangeSeesPredictionAndConfirmation(t *testing.T) {
	api := newFakeAPI(t)
	var (
		mu     sync.Mutex
		totals []pricing.Money
	)
	r := newLoadedReconciler(t, api, Options{
		OnChange: func(c *cart.Cart) {
			mu.Lock()
			totals = append(totals, c.Total)
			mu.Unlock()
		},
	})

	api.hold()

	m := r.AddItem(margheritaWithMozzarella, 900)
	seen := func(n int) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(totals) == n
		}
	}
	assert.Eventually(t, seen(2), time.Second, 5*time.Millisecond)

	api.release(t)
	require.NoError(t, m.Wait(waitCtx(t)))
	assert.Eventually(t, seen(3), time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// load, prediction from the local estimate, server answer
	assert.Equal(t, []pricing.Money{0, 900, 950}, totals)
}
