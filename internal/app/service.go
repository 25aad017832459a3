package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/notify"
	"github.com/pscheid92/orderpulse/internal/partition"
	"github.com/pscheid92/orderpulse/internal/tracking"
)

// Service is the application layer: the only component that talks to more
// than one partition. It orchestrates all use cases.
type Service struct {
	orders        *actor.Runtime[*tracking.Tracker]
	notifications *actor.Runtime[*notify.Center]
}

func NewService(orders *actor.Runtime[*tracking.Tracker], notifications *actor.Runtime[*notify.Center]) *Service {
	return &Service{orders: orders, notifications: notifications}
}

// UpdateOrderStatus applies cmd in the restaurant partition, which owns
// the order and forwards the transition to dispatch, then mirrors the
// result into the order's own partition. The mirror is best effort.
func (s *Service) UpdateOrderStatus(ctx context.Context, cmd domain.StatusUpdate) (*domain.OrderState, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	owner, err := partition.ForRestaurant(cmd.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("%w: restaurantId is required", domain.ErrInvalidCommand)
	}

	state, err := actor.AskIn(ctx, s.orders, owner, func(ctx context.Context, t *tracking.Tracker) (*domain.OrderState, error) {
		return t.UpdateStatus(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}

	s.mirror(ctx, state)
	return state, nil
}

func (s *Service) mirror(ctx context.Context, state *domain.OrderState) {
	name, err := partition.ForOrder(state.OrderID)
	if err != nil {
		return
	}
	mirrored := state.Clone()
	err = s.orders.Tell(ctx, name, func(ctx context.Context, t *tracking.Tracker) error {
		_, err := t.ApplyMirror(ctx, mirrored)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to enqueue order mirror", "partition", name, "error", err)
	}
}

// GetOrderStatus reads from the restaurant partition when restaurantID is
// given and from the order's own partition otherwise.
func (s *Service) GetOrderStatus(ctx context.Context, orderID, restaurantID string) (*domain.OrderState, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", domain.ErrInvalidCommand)
	}

	var (
		name partition.Name
		err  error
	)
	if restaurantID != "" {
		name, err = partition.ForRestaurant(restaurantID)
	} else {
		name, err = partition.ForOrder(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
	}

	return actor.AskIn(ctx, s.orders, name, func(_ context.Context, t *tracking.Tracker) (*domain.OrderState, error) {
		return t.GetStatus(orderID)
	})
}

func (s *Service) BroadcastNotification(ctx context.Context, req domain.BroadcastRequest) (*domain.NotificationRecord, error) {
	return s.askNotifications(ctx, func(ctx context.Context, c *notify.Center) (*domain.NotificationRecord, error) {
		return c.Broadcast(ctx, req)
	})
}

func (s *Service) SendNotification(ctx context.Context, req domain.TargetedRequest) (*domain.NotificationRecord, error) {
	return s.askNotifications(ctx, func(ctx context.Context, c *notify.Center) (*domain.NotificationRecord, error) {
		return c.SendTargeted(ctx, req)
	})
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) (*domain.NotificationRecord, error) {
	return s.askNotifications(ctx, func(ctx context.Context, c *notify.Center) (*domain.NotificationRecord, error) {
		return c.MarkRead(ctx, id)
	})
}

func (s *Service) PendingNotifications(ctx context.Context, userID, restaurantID string) ([]domain.NotificationRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidCommand)
	}
	return actor.AskIn(ctx, s.notifications, partition.Global(), func(_ context.Context, c *notify.Center) ([]domain.NotificationRecord, error) {
		return c.Pending(userID, restaurantID), nil
	})
}

func (s *Service) askNotifications(ctx context.Context, fn func(ctx context.Context, c *notify.Center) (*domain.NotificationRecord, error)) (*domain.NotificationRecord, error) {
	return actor.AskIn(ctx, s.notifications, partition.Global(), fn)
}

// Stop shuts both runtimes down, closing every open session.
func (s *Service) Stop(ctx context.Context) error {
	return multierr.Combine(
		s.orders.Stop(ctx),
		s.notifications.Stop(ctx),
	)
}

// IsUnavailable reports whether err means a partition could not be brought
// up and the caller should retry later.
func IsUnavailable(err error) bool {
	return errors.Is(err, actor.ErrHydration) || errors.Is(err, actor.ErrStopped)
}
