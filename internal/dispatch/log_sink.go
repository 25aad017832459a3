package dispatch

import (
	"context"
	"log/slog"

	"github.com/pscheid92/orderpulse/internal/domain"
)

// LogSink writes events to the structured log. Used in development where no
// queue is available.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, event domain.DispatchEvent) error {
	slog.InfoContext(ctx, "Dispatch event",
		"type", event.Type,
		"order_id", event.OrderID,
		"status", event.Status,
		"restaurant_id", event.RestaurantID,
		"user_id", event.UserID,
	)
	return nil
}

func (LogSink) Close() error { return nil }
