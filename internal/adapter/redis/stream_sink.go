package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/platform/retry"
)

const streamMaxLen = 100_000

// StreamSink appends dispatch events to a Redis stream consumed by the
// email/SMS workers.
type StreamSink struct {
	rdb    goredis.Cmdable
	stream string
}

func NewStreamSink(rdb goredis.Cmdable, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream}
}

func (s *StreamSink) Name() string { return "redis" }

func (s *StreamSink) Send(ctx context.Context, event domain.DispatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal dispatch event: %w", err))
	}

	err = s.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":     event.Type,
			"order_id": event.OrderID,
			"payload":  payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *StreamSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *StreamSink) Close() error { return nil }
