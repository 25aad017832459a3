package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	wsadapter "github.com/pscheid92/orderpulse/internal/adapter/websocket"
	"github.com/pscheid92/orderpulse/internal/app"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/partition"
	apperrors "github.com/pscheid92/orderpulse/internal/platform/errors"
)

const (
	channelOrders        = "orders"
	channelNotifications = "notifications"
)

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws/orders/:partition", s.handleOrderSocket)
	s.echo.GET("/ws/notifications", s.handleNotificationSocket)
}

func (s *Server) handleOrderSocket(c echo.Context) error {
	raw := c.Param("partition")
	if _, err := partition.Parse(raw); err != nil {
		s.wsMetrics.Rejected("bad_request")
		return apperrors.ValidationError("invalid partition").WithField("partition", raw)
	}
	sessionID := c.QueryParam("sessionId")

	return s.serveSocket(c, channelOrders, func(ctx context.Context, ch *wsadapter.Channel) (app.Connection, error) {
		return s.app.OpenOrderChannel(ctx, raw, sessionID, ch)
	})
}

func (s *Server) handleNotificationSocket(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		s.wsMetrics.Rejected("bad_request")
		return apperrors.ValidationError("userId is required")
	}
	restaurantID := c.QueryParam("restaurantId")

	return s.serveSocket(c, channelNotifications, func(ctx context.Context, ch *wsadapter.Channel) (app.Connection, error) {
		return s.app.OpenNotificationChannel(ctx, userID, restaurantID, ch)
	})
}

type openFunc func(ctx context.Context, ch *wsadapter.Channel) (app.Connection, error)

// serveSocket upgrades the request, attaches the channel through open and
// pumps inbound frames until the connection ends. It blocks for the
// lifetime of the connection.
func (s *Server) serveSocket(c echo.Context, kind string, open openFunc) error {
	if !s.connections.acquire() {
		s.wsMetrics.Rejected("limit")
		return apperrors.UnavailableError("too many connections", nil)
	}
	defer s.connections.release()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.wsMetrics.Rejected("upgrade")
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	// Commands enqueued from here on must outlive the request context.
	ctx := context.WithoutCancel(c.Request().Context())
	ch := wsadapter.NewChannel(conn, s.clock, kind, s.wsMetrics)

	appConn, err := open(ctx, ch)
	if err != nil {
		s.rejectOpen(ctx, ch, kind, err)
		return nil
	}

	s.wsMetrics.Connected(kind)
	defer s.wsMetrics.Disconnected(kind)
	slog.DebugContext(ctx, "WebSocket session opened", "channel", kind, "session_id", appConn.SessionID())

	readErr := ch.ReadLoop(func(data []byte) {
		appConn.Receive(ctx, data)
	})
	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		slog.DebugContext(ctx, "WebSocket read failed", "channel", kind, "session_id", appConn.SessionID(), "error", readErr)
	}

	appConn.Close(ctx)
	ch.Close("connection closed")
	<-ch.Done()
	slog.DebugContext(ctx, "WebSocket session closed", "channel", kind, "session_id", appConn.SessionID())
	return nil
}

// rejectOpen tells the client why its channel could not be attached and
// closes the connection.
func (s *Server) rejectOpen(ctx context.Context, ch *wsadapter.Channel, kind string, err error) {
	structuredErr := classify(err)
	s.wsMetrics.Rejected(string(structuredErr.Type))
	slog.WarnContext(ctx, "Failed to open session", "channel", kind, "error", err)

	msg, _ := json.Marshal(domain.ErrorMessage{Type: domain.MsgError, Error: structuredErr.Message})
	_ = ch.Send(msg)

	reason := structuredErr.Message
	if errors.Is(err, domain.ErrInvalidCommand) {
		reason = "invalid request"
	}
	ch.Close(reason)
	<-ch.Done()
}
