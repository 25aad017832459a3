package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/orderpulse/internal/adapter/websocket"
	"github.com/pscheid92/orderpulse/internal/app"
	"github.com/pscheid92/orderpulse/internal/domain"
	"github.com/pscheid92/orderpulse/internal/platform/config"
	"github.com/pscheid92/orderpulse/internal/session"
)

type appService interface {
	UpdateOrderStatus(ctx context.Context, cmd domain.StatusUpdate) (*domain.OrderState, error)
	GetOrderStatus(ctx context.Context, orderID, restaurantID string) (*domain.OrderState, error)
	BroadcastNotification(ctx context.Context, req domain.BroadcastRequest) (*domain.NotificationRecord, error)
	SendNotification(ctx context.Context, req domain.TargetedRequest) (*domain.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string) (*domain.NotificationRecord, error)
	PendingNotifications(ctx context.Context, userID, restaurantID string) ([]domain.NotificationRecord, error)
	OpenOrderChannel(ctx context.Context, rawPartition, sessionID string, ch session.Channel) (app.Connection, error)
	OpenNotificationChannel(ctx context.Context, userID, restaurantID string, ch session.Channel) (app.Connection, error)
}

// Deps bundles the collaborators the server does not own.
type Deps struct {
	App          appService
	HealthChecks []HealthCheck
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	WSMetrics    *metrics.WebSocketMetrics
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app          appService
	healthChecks []HealthCheck
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	wsMetrics    *metrics.WebSocketMetrics
	clock        clockwork.Clock

	upgrader    websocket.Upgrader
	connections *connectionLimiter
	startTime   time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleHTTPError

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          deps.App,
		healthChecks: deps.HealthChecks,
		registry:     deps.Registry,
		httpMetrics:  deps.HTTPMetrics,
		wsMetrics:    deps.WSMetrics,
		clock:        clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     wsadapter.NewCheckOrigin(cfg.AllowedOrigins, cfg.AppEnv != "production"),
		},
		connections: newConnectionLimiter(cfg.MaxWebSocketConnections),
		startTime:   clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
