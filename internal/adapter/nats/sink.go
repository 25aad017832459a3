// Package nats publishes dispatch events on a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/platform/retry"
)

const (
	sinkName       = "nats"
	connectTimeout = 5 * time.Second
	flushTimeout   = 5 * time.Second
)

var errDisconnected = errors.New("nats connection is not connected")

// Sink publishes one message per event on subject. The restaurant id is
// copied into the Nats-Restaurant header so consumers can filter without
// decoding the payload.
type Sink struct {
	conn    *nats.Conn
	subject string
}

func NewSink(url, subject string) (*Sink, error) {
	conn, err := nats.Connect(url,
		nats.Name("orderpulse"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Sink{conn: conn, subject: subject}, nil
}

func (s *Sink) Name() string { return sinkName }

func (s *Sink) Send(ctx context.Context, event domain.DispatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal dispatch event: %w", err))
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = payload
	msg.Header.Set("Nats-Restaurant", event.RestaurantID)

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (s *Sink) Ping(context.Context) error {
	if !s.conn.IsConnected() {
		return errDisconnected
	}
	return nil
}

func (s *Sink) Close() error {
	return s.conn.Drain()
}
