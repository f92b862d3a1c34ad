package cartclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/composition"
	"github.com/example/ec-ordering/internal/domain/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

type MutationState int

const (
	Predicted MutationState = iota
	Confirmed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Predicted:
		return "predicted"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("MutationState(%d)", int(s))
}

// Mutation is one optimistic change. It starts Predicted and ends either
// Confirmed by the server or RolledBack.
type Mutation struct {
	op      string
	key     string
	token   string
	predict func(*cart.Cart)
	send    func(ctx context.Context, token string) (*cart.Cart, error)

	done  chan struct{}
	state MutationState
	err   error
}

func (m *Mutation) Op() string    { return m.op }
func (m *Mutation) Key() string   { return m.key }
func (m *Mutation) Token() string { return m.token }

// Done is closed when the mutation is confirmed or rolled back.
func (m *Mutation) Done() <-chan struct{} { return m.done }

func (m *Mutation) State() MutationState {
	select {
	case <-m.done:
		return m.state
	default:
		return Predicted
	}
}

// Err is the failure that rolled the mutation back, or nil.
func (m *Mutation) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Wait blocks until the mutation resolves or ctx is done.
func (m *Mutation) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutation) finish(state MutationState, err error) {
	m.state = state
	m.err = err
	close(m.done)
}

type Options struct {
	// Timeout bounds one mutation including retries. A mutation that has not
	// been answered by then is rolled back.
	Timeout time.Duration
	// MaxAttempts bounds the sends of one mutation on transient failures.
	// Retries reuse the mutation's idempotency token.
	MaxAttempts  int
	RetryBackoff time.Duration

	// OnChange receives every new local state in order. It must not call back
	// into the Reconciler synchronously.
	OnChange func(*cart.Cart)
	// OnError is called after a mutation was rolled back.
	OnError func(*Mutation, error)

	Logger *zap.Logger
}

// Reconciler keeps the local view of one cart. Each mutation is predicted
// locally and shown at once, then sent to the server. Mutations are sent one
// at a time in FIFO order. A successful response replaces the confirmed
// state; a failure or timeout drops the prediction. The shown state is always
// the confirmed state with the predictions of the queued mutations replayed
// on top.
type Reconciler struct {
	api    API
	cartID string
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	confirmed *cart.Cart
	state     *cart.Cart
	queue     []*Mutation
	closed    bool
	seq       uint64

	notifyMu sync.Mutex
	notified uint64

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewReconciler(api API, cartID string, opts Options) *Reconciler {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	empty := &cart.Cart{ID: cartID}
	r := &Reconciler{
		api:       api,
		cartID:    cartID,
		opts:      opts,
		logger:    logger.With(zap.String("component", "cart_reconciler"), zap.String("cart_id", cartID)),
		confirmed: empty,
		state:     empty.Clone(),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Load fetches the authoritative cart and makes it the confirmed state.
func (r *Reconciler) Load(ctx context.Context) (*cart.Cart, error) {
	c, err := r.api.GetCart(ctx, r.cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", r.cartID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.confirmed = c
	r.rebaseLocked()
	seq, state := r.changedLocked()
	r.mu.Unlock()

	r.notify(seq, state)
	return state.Clone(), nil
}

// State returns a copy of the cart as currently shown.
func (r *Reconciler) State() *cart.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Quantity returns the shown quantity of a line, zero when absent.
func (r *Reconciler) Quantity(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if li, ok := r.state.Item(key); ok {
		return li.Quantity
	}
	return 0
}

// Pending returns the number of unresolved mutations.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// AddItem adds one unit of a composition. unitPrice is the local estimate
// used until the server answers.
func (r *Reconciler) AddItem(item AddItem, unitPrice pricing.Money) *Mutation {
	key := composition.Key(item.VariantID, item.AddOnIDs)
	item.BaseIngredients = slices.Clone(item.BaseIngredients)
	return r.enqueue("add", key,
		func(c *cart.Cart) { predictAdd(c, key, item, unitPrice) },
		func(ctx context.Context, token string) (*cart.Cart, error) {
			return r.api.AddItem(ctx, r.cartID, item, token)
		})
}

// SetQuantity sets a line's quantity; zero removes the line.
func (r *Reconciler) SetQuantity(key string, quantity int) *Mutation {
	if quantity < 0 {
		m := &Mutation{op: "set_quantity", key: key, done: make(chan struct{})}
		m.finish(RolledBack, fmt.Errorf("%w: %d", cart.ErrInvalidQuantity, quantity))
		return m
	}
	return r.enqueue("set_quantity", key,
		func(c *cart.Cart) { predictQuantity(c, key, quantity) },
		func(ctx context.Context, token string) (*cart.Cart, error) {
			return r.api.SetQuantity(ctx, r.cartID, key, quantity, token)
		})
}

func (r *Reconciler) Remove(key string) *Mutation {
	return r.enqueue("remove", key,
		func(c *cart.Cart) { predictQuantity(c, key, 0) },
		func(ctx context.Context, token string) (*cart.Cart, error) {
			return r.api.RemoveItem(ctx, r.cartID, key, token)
		})
}

// Close stops the reconciler. The in-flight call is abandoned and every
// unresolved mutation is rolled back with ErrClosed.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	<-r.stopped

	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.state = r.confirmed.Clone()
	r.mu.Unlock()

	for _, m := range pending {
		m.finish(RolledBack, ErrClosed)
	}
}

func (r *Reconciler) enqueue(op, key string, predict func(*cart.Cart), send func(context.Context, string) (*cart.Cart, error)) *Mutation {
	m := &Mutation{
		op:      op,
		key:     key,
		token:   uuid.NewString(),
		predict: predict,
		send:    send,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.finish(RolledBack, ErrClosed)
		return m
	}
	m.predict(r.state)
	r.state.Total = estimateTotal(r.state)
	r.queue = append(r.queue, m)
	seq, state := r.changedLocked()
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.notify(seq, state)
	return m
}

func (r *Reconciler) run() {
	defer close(r.stopped)
	for {
		m := r.next()
		if m == nil {
			return
		}
		c, err := r.send(m)
		r.resolve(m, c, err)
	}
}

func (r *Reconciler) next() *Mutation {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil
		}
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.mu.Unlock()
			return m
		}
		r.mu.Unlock()

		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return nil
		}
	}
}

func (r *Reconciler) send(m *Mutation) (*cart.Cart, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.Timeout)
	defer cancel()

	var err error
	for attempt := 1; ; attempt++ {
		var c *cart.Cart
		c, err = m.send(ctx, m.token)
		if err == nil {
			return c, nil
		}
		if !apperr.IsRetryable(err) || attempt >= r.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		r.logger.Debug("retrying mutation",
			zap.String("op", m.op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		timer := time.NewTimer(r.opts.RetryBackoff * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case r.ctx.Err() != nil:
		return nil, ErrClosed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return nil, err
}

func (r *Reconciler) resolve(m *Mutation, c *cart.Cart, err error) {
	r.mu.Lock()
	if len(r.queue) == 0 || r.queue[0] != m {
		r.mu.Unlock()
		return
	}
	r.queue = r.queue[1:]
	if err == nil {
		r.confirmed = c
	}
	r.rebaseLocked()
	seq, state := r.changedLocked()
	if err == nil {
		m.finish(Confirmed, nil)
	} else {
		m.finish(RolledBack, err)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("mutation rolled back",
			zap.String("op", m.op),
			zap.String("key", m.key),
			zap.String("idempotency_key", m.token),
			zap.Error(err))
		if r.opts.OnError != nil {
			r.opts.OnError(m, err)
		}
	}
	r.notify(seq, state)
}

// rebaseLocked rebuilds the shown state from the confirmed state and the
// queued predictions.
func (r *Reconciler) rebaseLocked() {
	state := r.confirmed.Clone()
	for _, m := range r.queue {
		m.predict(state)
		state.Total = estimateTotal(state)
	}
	r.state = state
}

func (r *Reconciler) changedLocked() (uint64, *cart.Cart) {
	r.seq++
	return r.seq, r.state.Clone()
}

func (r *Reconciler) notify(seq uint64, state *cart.Cart) {
	if r.opts.OnChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if seq <= r.notified {
		return
	}
	r.notified = seq
	r.opts.OnChange(state)
}

func predictAdd(c *cart.Cart, key string, item AddItem, unitPrice pricing.Money) {
	for i := range c.Items {
		if c.Items[i].Key == key {
			c.Items[i].Quantity++
			return
		}
	}
	ids := composition.AddOnSet(item.AddOnIDs)
	addOns := make([]cart.AddOnSnapshot, len(ids))
	for i, id := range ids {
		addOns[i] = cart.AddOnSnapshot{ID: id}
	}
	c.Items = append(c.Items, cart.LineItem{
		Key:             key,
		VariantID:       item.VariantID,
		AddOns:          addOns,
		BaseIngredients: slices.Clone(item.BaseIngredients),
		Quantity:        1,
		UnitPrice:       unitPrice,
	})
}

func predictQuantity(c *cart.Cart, key string, quantity int) {
	i := slices.IndexFunc(c.Items, func(li cart.LineItem) bool { return li.Key == key })
	if i < 0 {
		return
	}
	if quantity == 0 {
		c.Items = slices.Delete(c.Items, i, i+1)
		return
	}
	c.Items[i].Quantity = quantity
}

func estimateTotal(c *cart.Cart) pricing.Money {
	var total pricing.Money
	for _, li := range c.Items {
		total += li.UnitPrice * pricing.Money(li.Quantity)
	}
	return total
}
