package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/platform/retry"
)

const (
	defaultBuffer      = 1024
	defaultSendTimeout = 10 * time.Second

	dropBufferFull = "buffer_full"
	dropClosed     = "closed"
	dropShutdown   = "shutdown"
)

// Sink delivers a single event to the outbound queue. Errors wrapped with
// retry.Permanent are not retried.
type Sink interface {
	Name() string
	Send(ctx context.Context, event domain.DispatchEvent) error
	Close() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// DefaultPolicy retries a failed delivery four times with exponential
// backoff capped at five seconds.
var DefaultPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

type Options struct {
	Buffer      int
	SendTimeout time.Duration
	Policy      retry.Policy
	Metrics     *metrics.DispatchMetrics
}

// Bridge implements domain.Dispatcher.
type Bridge struct {
	sink        Sink
	events      chan domain.DispatchEvent
	policy      retry.Policy
	sendTimeout time.Duration
	metrics     *metrics.DispatchMetrics

	mu     sync.RWMutex
	closed bool

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	done         chan struct{}
}

var _ domain.Dispatcher = (*Bridge)(nil)

// NewBridge starts the delivery worker.
func NewBridge(sink Sink, opts Options) *Bridge {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultPolicy
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		sink:         sink,
		events:       make(chan domain.DispatchEvent, opts.Buffer),
		policy:       opts.Policy,
		sendTimeout:  opts.SendTimeout,
		metrics:      opts.Metrics,
		workerCtx:    ctx,
		cancelWorker: cancel,
		done:         make(chan struct{}),
	}
	if b.policy.OnRetry == nil {
		b.policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Dispatch delivery failed, retrying",
				"sink", sink.Name(), "attempt", attempt, "backoff", backoff, "error", err)
		}
	}

	go b.run()
	return b
}

// Forward enqueues event and returns immediately.
func (b *Bridge) Forward(event domain.DispatchEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.metrics.Drop(dropClosed)
		slog.Warn("Dispatch bridge closed, dropping event", "order_id", event.OrderID, "status", event.Status)
		return
	}

	select {
	case b.events <- event:
		b.metrics.Accepted(b.sink.Name(), len(b.events))
	default:
		b.metrics.Drop(dropBufferFull)
		slog.Warn("Dispatch buffer full, dropping event", "order_id", event.OrderID, "status", event.Status)
	}
}

func (b *Bridge) run() {
	defer close(b.done)

	for event := range b.events {
		if b.workerCtx.Err() != nil {
			b.metrics.Drop(dropShutdown)
			continue
		}
		b.deliver(event)
	}
}

func (b *Bridge) deliver(event domain.DispatchEvent) {
	err := retry.DoVoid(b.workerCtx, b.policy, retry.ClassifyPermanent, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()
		return b.sink.Send(ctx, event)
	})
	b.metrics.Finished(b.sink.Name(), err, len(b.events))

	if err != nil {
		slog.Error("Dispatch delivery failed",
			"sink", b.sink.Name(), "order_id", event.OrderID, "status", event.Status, "error", err)
	}
}

// Ping checks the sink when it supports health checks.
func (b *Bridge) Ping(ctx context.Context) error {
	if p, ok := b.sink.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops accepting events and drains the buffer until ctx expires.
// Undelivered events are dropped after that.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	var drainErr error
	select {
	case <-b.done:
	case <-ctx.Done():
		b.cancelWorker()
		<-b.done
		drainErr = fmt.Errorf("dispatch drain incomplete: %w", ctx.Err())
	}
	b.cancelWorker()

	return multierr.Append(drainErr, b.sink.Close())
}
