package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/notify"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/session"
	"github.com/pscheid92/orderpulse/internal/tracking"
)

// Connection binds one push channel to the actor serving it. Transports
// feed inbound frames to Receive and call Close exactly once when the
// connection ends.
type Connection interface {
	SessionID() string
	Receive(ctx context.Context, data []byte)
	Close(ctx context.Context)
}

// OpenOrderChannel attaches ch to the tracking partition named by
// rawPartition ("order:<id>", "restaurant:<id>", "global" or a bare
// restaurant id). A session id is generated when none is given.
func (s *Service) OpenOrderChannel(ctx context.Context, rawPartition, sessionID string, ch session.Channel) (Connection, error) {
	name, err := partition.Parse(rawPartition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a, err := s.orders.Do(ctx, name, func(_ context.Context, t *tracking.Tracker) error {
		t.OpenChannel(sessionID, ch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &orderConnection{actor: a, sessionID: sessionID, ch: ch}, nil
}

type orderConnection struct {
	actor     *actor.Actor[*tracking.Tracker]
	sessionID string
	ch        session.Channel
}

func (c *orderConnection) SessionID() string { return c.sessionID }

func (c *orderConnection) Receive(ctx context.Context, data []byte) {
	err := c.actor.Tell(ctx, func(_ context.Context, t *tracking.Tracker) error {
		t.HandleClientMessage(c.sessionID, data)
		return nil
	})
	logTellError(ctx, err, c.actor.Name(), c.sessionID)
}

func (c *orderConnection) Close(ctx context.Context) {
	err := c.actor.Tell(ctx, func(_ context.Context, t *tracking.Tracker) error {
		t.CloseChannel(c.sessionID, c.ch)
		return nil
	})
	logTellError(ctx, err, c.actor.Name(), c.sessionID)
}

// OpenNotificationChannel attaches ch to the notification partition for
// userID, optionally scoped to restaurantID.
func (s *Service) OpenNotificationChannel(ctx context.Context, userID, restaurantID string, ch session.Channel) (Connection, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidCommand)
	}

	var key string
	a, err := s.notifications.Do(ctx, partition.Global(), func(_ context.Context, c *notify.Center) error {
		key = c.OpenChannel(userID, restaurantID, ch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &notificationConnection{actor: a, sessionKey: key, ch: ch}, nil
}

type notificationConnection struct {
	actor      *actor.Actor[*notify.Center]
	sessionKey string
	ch         session.Channel
}

func (c *notificationConnection) SessionID() string { return c.sessionKey }

func (c *notificationConnection) Receive(ctx context.Context, data []byte) {
	err := c.actor.Tell(ctx, func(ctx context.Context, n *notify.Center) error {
		n.HandleClientMessage(ctx, c.sessionKey, data)
		return nil
	})
	logTellError(ctx, err, c.actor.Name(), c.sessionKey)
}

func (c *notificationConnection) Close(ctx context.Context) {
	err := c.actor.Tell(ctx, func(_ context.Context, n *notify.Center) error {
		n.CloseChannel(c.sessionKey, c.ch)
		return nil
	})
	logTellError(ctx, err, c.actor.Name(), c.sessionKey)
}

func logTellError(ctx context.Context, err error, name partition.Name, sessionID string) {
	switch {
	case err == nil:
	case errors.Is(err, actor.ErrStopped), errors.Is(err, context.Canceled):
		slog.DebugContext(ctx, "Dropped session command", "partition", name, "session_id", sessionID, "error", err)
	default:
		slog.WarnContext(ctx, "Failed to enqueue session command", "partition", name, "session_id", sessionID, "error", err)
	}
}
