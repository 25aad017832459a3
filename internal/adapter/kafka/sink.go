// Package kafka publishes dispatch events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/platform/retry"
)

const (
	sinkName     = "kafka"
	writeTimeout = 10 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes events keyed by order id, so the hash balancer keeps every
// order's events on one partition and in order.
type Sink struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker
}

func NewSink(brokers []string, topic string, m *metrics.DispatchMetrics) *Sink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}
	return newSink(w, m)
}

func newSink(w messageWriter, m *metrics.DispatchMetrics) *Sink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        sinkName,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(name, stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			var perm *retry.PermanentError
			return err == nil || errors.As(err, &perm)
		},
	})
	m.SetBreakerState(sinkName, 0)
	return &Sink{writer: w, cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (s *Sink) Name() string { return sinkName }

func (s *Sink) Send(ctx context.Context, event domain.DispatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal dispatch event: %w", err))
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.OrderID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(event.Type)},
			},
		})
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// State exposes the breaker state for readiness checks.
func (s *Sink) State() gobreaker.State {
	return s.cb.State()
}

// Ping reports unhealthy while the breaker is open.
func (s *Sink) Ping(context.Context) error {
	if s.cb.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}
