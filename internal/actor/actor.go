package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/platform/correlation"
)

var (
	ErrHydration = errors.New("partition hydration failed")
	ErrStopped   = errors.New("actor stopped")
	ErrPanic     = errors.New("actor command panicked")
	// ErrPassivated is returned for commands offered to an actor that was
	// released for idleness. The command was never accepted; Runtime.Do
	// retries it on a fresh actor.
	ErrPassivated = fmt.Errorf("%w: passivated", ErrStopped)
)

// ReasonPassivated is passed to Behavior.Shutdown when an idle actor is
// released.
const ReasonPassivated = "passivated"

// Behavior is the state an actor owns. All methods are called on the actor
// goroutine, except Hydrate, which runs before the actor goroutine starts.
type Behavior interface {
	// Hydrate loads every persisted entry of the partition.
	Hydrate(ctx context.Context, entries []domain.Entry) error
	// Shutdown releases sessions when the actor stops.
	Shutdown(reason string)
}

// Idler is implemented by behaviors that hold something beyond persisted
// state, such as open sessions. Such an actor is only passivated while Idle
// reports true. Behaviors without it are always passivation candidates.
type Idler interface {
	Idle() bool
}

// Sweeper is implemented by behaviors that want periodic maintenance.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time)
}

// Func is a command executed on the actor goroutine.
type Func[B Behavior] func(ctx context.Context, b B) error

// actorCmd is the command interface for the actor mailbox.
type actorCmd interface{ isActorCmd() }

type baseActorCmd struct{}

func (baseActorCmd) isActorCmd() {}

type execCmd[B Behavior] struct {
	baseActorCmd
	ctx   context.Context
	fn    Func[B]
	reply chan error
}

type sweepCmd struct {
	baseActorCmd
	now time.Time
}

type stopCmd struct {
	baseActorCmd
	reason string
}

type Actor[B Behavior] struct {
	name     partition.Name
	kind     string
	behavior B
	mailbox  chan actorCmd
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	clock    clockwork.Clock
	metrics  *metrics.ActorMetrics

	// gate is held shared by enqueuers and exclusively while the actor is
	// released, so no command slips in after the release decision.
	gate           sync.RWMutex
	passivated     bool // guarded by gate
	lastActive     atomic.Int64
	passivateAfter time.Duration
	release        func(*Actor[B]) bool
}

func newActor[B Behavior](name partition.Name, behavior B, opts Options, release func(*Actor[B]) bool) *Actor[B] {
	a := &Actor[B]{
		name:           name,
		kind:           opts.Kind,
		behavior:       behavior,
		mailbox:        make(chan actorCmd, opts.MailboxSize),
		stopping:       make(chan struct{}),
		done:           make(chan struct{}),
		clock:          opts.Clock,
		metrics:        opts.Metrics,
		passivateAfter: opts.PassivateAfter,
		release:        release,
	}
	a.touch()
	return a
}

func (a *Actor[B]) touch() {
	a.lastActive.Store(a.clock.Now().UnixNano())
}

func (a *Actor[B]) Name() partition.Name {
	return a.name
}

// Do runs fn on the actor goroutine and waits for its result. Cancelling
// ctx abandons the wait only: once accepted, fn still runs in order, with a
// context that keeps ctx's values but not its cancellation.
func (a *Actor[B]) Do(ctx context.Context, fn Func[B]) error {
	reply := make(chan error, 1)
	cmd := execCmd[B]{ctx: correlation.Detach(ctx), fn: fn, reply: reply}
	if err := a.enqueue(ctx, cmd); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		// The reply may have been sent just before the goroutine exited.
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

// Tell enqueues fn without waiting for it to run. Errors returned by fn are
// logged.
func (a *Actor[B]) Tell(ctx context.Context, fn Func[B]) error {
	execCtx, _ := correlation.Ensure(correlation.Detach(ctx))
	return a.enqueue(ctx, execCmd[B]{ctx: execCtx, fn: fn})
}

// Ask runs fn on the actor goroutine and returns its value.
func Ask[B Behavior, T any](ctx context.Context, a *Actor[B], fn func(ctx context.Context, b B) (T, error)) (T, error) {
	var out T
	err := a.Do(ctx, func(ctx context.Context, b B) error {
		v, err := fn(ctx, b)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (a *Actor[B]) enqueue(ctx context.Context, cmd actorCmd) error {
	a.gate.RLock()
	defer a.gate.RUnlock()

	if a.passivated {
		return ErrPassivated
	}
	select {
	case <-a.stopping:
		return ErrStopped
	default:
	}
	a.touch()

	select {
	case a.mailbox <- cmd:
		return nil
	default:
		a.metrics.MailboxFull(a.kind)
	}

	select {
	case a.mailbox <- cmd:
		return nil
	case <-a.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySweep enqueues a sweep unless the mailbox is full.
func (a *Actor[B]) trySweep(now time.Time) bool {
	select {
	case <-a.stopping:
		return false
	default:
	}
	select {
	case a.mailbox <- sweepCmd{now: now}:
		return true
	default:
		return false
	}
}

func (a *Actor[B]) depth() int {
	return len(a.mailbox)
}

// Stop shuts the actor down after the commands already queued ahead of the
// stop request. Blocks until the goroutine exits or ctx expires.
func (a *Actor[B]) Stop(ctx context.Context, reason string) error {
	a.stopOnce.Do(func() { close(a.stopping) })

	select {
	case a.mailbox <- stopCmd{reason: reason}:
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", a.name, ctx.Err())
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", a.name, ctx.Err())
	}
}

func (a *Actor[B]) run() {
	defer close(a.done)

	for cmd := range a.mailbox {
		switch c := cmd.(type) {
		case execCmd[B]:
			err := a.exec(c)
			if c.reply != nil {
				c.reply <- err
			} else if err != nil {
				slog.WarnContext(c.ctx, "Actor command failed", "partition", a.name, "error", err)
			}
		case sweepCmd:
			if s, ok := any(a.behavior).(Sweeper); ok {
				a.safely("sweep", func() { s.Sweep(context.Background(), c.now) })
			}
			if a.idleSince(c.now) && a.release(a) {
				a.safely("shutdown", func() { a.behavior.Shutdown(ReasonPassivated) })
				slog.Debug("Actor passivated", "kind", a.kind, "partition", a.name)
				return
			}
		case stopCmd:
			a.safely("shutdown", func() { a.behavior.Shutdown(c.reason) })
			a.drain()
			return
		default:
			slog.Warn("Actor received unknown command type", "partition", a.name, "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

// idleSince reports whether the actor saw no command for passivateAfter and
// its behavior holds nothing that would be lost by releasing it.
func (a *Actor[B]) idleSince(now time.Time) bool {
	if a.passivateAfter <= 0 || a.release == nil {
		return false
	}
	if now.Sub(time.Unix(0, a.lastActive.Load())) < a.passivateAfter {
		return false
	}
	idle := true
	if i, ok := any(a.behavior).(Idler); ok {
		a.safely("idle", func() { idle = i.Idle() })
	}
	return idle
}

// markPassivated closes the gate if no enqueue is in flight and the mailbox
// is empty. It must be called with the actor's stripe locked.
func (a *Actor[B]) markPassivated() bool {
	if !a.gate.TryLock() {
		return false
	}
	defer a.gate.Unlock()
	if len(a.mailbox) > 0 {
		return false
	}
	a.passivated = true
	return true
}

func (a *Actor[B]) exec(c execCmd[B]) (err error) {
	start := a.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			a.metrics.Panicked(a.kind)
			slog.ErrorContext(c.ctx, "Actor command panic recovered",
				"partition", a.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		a.metrics.CommandExecuted(a.kind, a.clock.Since(start))
	}()
	return c.fn(correlation.WithPartition(c.ctx, a.name.String()), a.behavior)
}

func (a *Actor[B]) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.Panicked(a.kind)
			slog.Error("Actor panic recovered", "partition", a.name, "op", op, "panic", r)
		}
	}()
	fn()
}

// drain answers commands that were accepted before the stop with ErrStopped.
func (a *Actor[B]) drain() {
	for {
		select {
		case cmd := <-a.mailbox:
			if c, ok := cmd.(execCmd[B]); ok && c.reply != nil {
				c.reply <- ErrStopped
			}
		default:
			return
		}
	}
}
