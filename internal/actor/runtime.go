package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/platform/correlation"
	"github.com/pscheid92/orderpulse/internal/session"
)

const (
	defaultMailboxSize  = 256
	defaultStoreTimeout = 5 * time.Second
	stripeCount         = 32
)

// Factory builds the behavior for a partition. It must not do I/O; loading
// happens in Behavior.Hydrate.
type Factory[B Behavior] func(name partition.Name, store *Store) B

type Options struct {
	// Kind labels metrics and logs, e.g. "orders".
	Kind          string
	MailboxSize   int
	StoreTimeout  time.Duration
	SweepInterval time.Duration // 0 disables periodic sweeps
	// PassivateAfter releases an actor that received no command for this
	// long and whose behavior is idle. It is checked on sweeps, so the
	// effective delay rounds up to SweepInterval. 0 keeps actors forever.
	PassivateAfter time.Duration
	Clock          clockwork.Clock
	Metrics       *metrics.ActorMetrics
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = "default"
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = defaultMailboxSize
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

type stripe[B Behavior] struct {
	mu     sync.RWMutex
	actors map[partition.Name]*Actor[B]
}

// Runtime hosts the actors of one kind, at most one per partition name.
type Runtime[B Behavior] struct {
	opts    Options
	store   domain.PartitionStore
	factory Factory[B]
	stripes [stripeCount]*stripe[B]
	group   singleflight.Group
	stopped atomic.Bool
	stopCh  chan struct{}
	stopMu  sync.Once
	wg      sync.WaitGroup
}

func NewRuntime[B Behavior](store domain.PartitionStore, factory Factory[B], opts Options) *Runtime[B] {
	r := &Runtime[B]{
		opts:    opts.withDefaults(),
		store:   store,
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	for i := range r.stripes {
		r.stripes[i] = &stripe[B]{actors: make(map[partition.Name]*Actor[B])}
	}
	if r.opts.SweepInterval > 0 {
		r.wg.Add(1)
		go r.maintain()
	}
	return r
}

// Get returns the actor for name, creating and hydrating it on first
// access. Concurrent first accesses share one hydration. When hydration
// fails nothing is published and the error wraps ErrHydration; the next
// Get tries again.
func (r *Runtime[B]) Get(ctx context.Context, name partition.Name) (*Actor[B], error) {
	if r.stopped.Load() {
		return nil, ErrStopped
	}
	if a, ok := r.lookup(name); ok {
		return a, nil
	}

	spawnCtx := correlation.Detach(ctx)
	ch := r.group.DoChan(string(name), func() (any, error) {
		if a, ok := r.lookup(name); ok {
			return a, nil
		}
		return r.spawn(spawnCtx, name)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Actor[B]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn on the actor for name and returns that actor. If the actor
// found was passivated before accepting fn, the command is retried on its
// freshly hydrated replacement.
func (r *Runtime[B]) Do(ctx context.Context, name partition.Name, fn Func[B]) (*Actor[B], error) {
	return r.retry(ctx, name, func(a *Actor[B]) error { return a.Do(ctx, fn) })
}

// Tell enqueues fn on the actor for name without waiting for it to run.
func (r *Runtime[B]) Tell(ctx context.Context, name partition.Name, fn Func[B]) error {
	_, err := r.retry(ctx, name, func(a *Actor[B]) error { return a.Tell(ctx, fn) })
	return err
}

// AskIn runs fn on the actor for name and returns its value, with the same
// passivation retry as Runtime.Do.
func AskIn[B Behavior, T any](ctx context.Context, r *Runtime[B], name partition.Name, fn func(ctx context.Context, b B) (T, error)) (T, error) {
	var out T
	_, err := r.retry(ctx, name, func(a *Actor[B]) error {
		v, err := Ask(ctx, a, fn)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (r *Runtime[B]) retry(ctx context.Context, name partition.Name, call func(a *Actor[B]) error) (*Actor[B], error) {
	for {
		a, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		err = call(a)
		if errors.Is(err, ErrPassivated) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Len returns the number of live actors.
func (r *Runtime[B]) Len() int {
	n := 0
	for _, s := range r.stripes {
		s.mu.RLock()
		n += len(s.actors)
		s.mu.RUnlock()
	}
	return n
}

// Stop stops every actor, closing their sessions. Errors from actors that
// did not stop before ctx expired are combined.
func (r *Runtime[B]) Stop(ctx context.Context) error {
	var err error
	r.stopMu.Do(func() {
		r.stopped.Store(true)
		close(r.stopCh)

		actors := r.drainIndex()
		for _, a := range actors {
			err = multierr.Append(err, a.Stop(ctx, session.ReasonShutdown))
		}

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("waiting for %s actors: %w", r.opts.Kind, ctx.Err()))
		}

		r.opts.Metrics.SetActive(r.opts.Kind, 0)
		slog.Info("Actor runtime stopped", "kind", r.opts.Kind, "actors", len(actors))
	})
	return err
}

func (r *Runtime[B]) spawn(ctx context.Context, name partition.Name) (*Actor[B], error) {
	store := NewStore(r.store, name, r.opts.StoreTimeout)
	behavior := r.factory(name, store)

	start := r.opts.Clock.Now()
	n, err := hydrate(ctx, store, behavior)
	r.opts.Metrics.Hydrated(r.opts.Kind, r.opts.Clock.Since(start), err)
	if err != nil {
		slog.WarnContext(ctx, "Partition hydration failed", "kind", r.opts.Kind, "partition", name, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrHydration, name, err)
	}

	a := newActor(name, behavior, r.opts, r.passivate)

	s := r.stripeFor(name)
	s.mu.Lock()
	if r.stopped.Load() {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.run()
	}()
	s.actors[name] = a
	s.mu.Unlock()

	r.opts.Metrics.SetActive(r.opts.Kind, r.Len())
	slog.DebugContext(ctx, "Partition hydrated",
		"kind", r.opts.Kind,
		"partition", name,
		"entries", n,
		"duration", r.opts.Clock.Since(start),
	)
	return a, nil
}

func hydrate[B Behavior](ctx context.Context, store *Store, behavior B) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	entries, err := store.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}
	if err := behavior.Hydrate(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// passivate removes a from the index. It runs on a's goroutine; a then
// exits, and the next Get hydrates a new actor from the store.
func (r *Runtime[B]) passivate(a *Actor[B]) bool {
	s := r.stripeFor(a.name)
	s.mu.Lock()
	if s.actors[a.name] != a || !a.markPassivated() {
		s.mu.Unlock()
		return false
	}
	delete(s.actors, a.name)
	s.mu.Unlock()

	r.opts.Metrics.Passivated(r.opts.Kind)
	r.opts.Metrics.SetActive(r.opts.Kind, r.Len())
	return true
}

func (r *Runtime[B]) stripeFor(name partition.Name) *stripe[B] {
	return r.stripes[name.Shard(stripeCount)]
}

func (r *Runtime[B]) lookup(name partition.Name) (*Actor[B], bool) {
	s := r.stripeFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[name]
	return a, ok
}

func (r *Runtime[B]) snapshot() []*Actor[B] {
	var out []*Actor[B]
	for _, s := range r.stripes {
		s.mu.RLock()
		for _, a := range s.actors {
			out = append(out, a)
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Runtime[B]) drainIndex() []*Actor[B] {
	var out []*Actor[B]
	for _, s := range r.stripes {
		s.mu.Lock()
		for name, a := range s.actors {
			out = append(out, a)
			delete(s.actors, name)
		}
		s.mu.Unlock()
	}
	return out
}

// maintain sends sweeps to every actor and samples mailbox depth.
func (r *Runtime[B]) maintain() {
	defer r.wg.Done()

	ticker := r.opts.Clock.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.Chan():
			r.sweep(r.opts.Clock.Now())
		}
	}
}

func (r *Runtime[B]) sweep(now time.Time) {
	actors := r.snapshot()
	maxDepth := 0
	for _, a := range actors {
		if d := a.depth(); d > maxDepth {
			maxDepth = d
		}
		if !a.trySweep(now) {
			r.opts.Metrics.SweepSkipped(r.opts.Kind)
		}
	}
	r.opts.Metrics.SetMailboxDepth(r.opts.Kind, maxDepth)

	if maxDepth > r.opts.MailboxSize*4/5 {
		slog.Warn("Actor mailbox near capacity",
			"kind", r.opts.Kind,
			"depth", maxDepth,
			"capacity", r.opts.MailboxSize,
		)
	}
}
