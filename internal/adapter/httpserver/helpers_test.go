package httpserver

import (
	"context"
	"testing"

	"github.com/pscheid92/orderpulse/internal/actor"
	"github.com/pscheid92/orderpulse/internal/adapter/memory"
	"github.com/pscheid92/orderpulse/internal/app"
	"github.com/pscheid92/orderpulse/internal/dispatch"
	"github.com/pscheid92/orderpulse/internal/notify"
	"github.com/pscheid92/orderpulse/internal/platform/config"
	"github.com/pscheid92/orderpulse/internal/tracking"
)

type testServerOption func(*config.Config, *Deps)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(_ *config.Config, d *Deps) {
		d.HealthChecks = checks
	}
}

func withMaxConnections(n int) testServerOption {
	return func(cfg *config.Config, _ *Deps) {
		cfg.MaxWebSocketConnections = n
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		APIRateLimit:            1000,
		APIRateBurst:            1000,
		MaxWebSocketConnections: 100,
	}
}

// newTestApp wires a real service over an in-memory store with the log sink
// as the dispatch target.
func newTestApp(t *testing.T) *app.Service {
	t.Helper()

	backend := memory.NewStore()
	bridge := dispatch.NewBridge(dispatch.LogSink{}, dispatch.Options{})
	orders := actor.NewRuntime(backend, tracking.NewFactory(tracking.Options{Dispatcher: bridge}), actor.Options{Kind: "orders"})
	notifications := actor.NewRuntime(backend, notify.NewFactory(notify.Options{}), actor.Options{Kind: "notifications"})

	svc := app.NewService(orders, notifications)
	t.Cleanup(func() {
		_ = svc.Stop(context.Background())
		_ = bridge.Close(context.Background())
	})
	return svc
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	cfg := testConfig()
	deps := Deps{App: newTestApp(t)}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return NewServer(cfg, deps)
}
