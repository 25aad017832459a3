package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderpulse"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Set bundles every instrument group registered against one registry.
type Set struct {
	Registry  *prometheus.Registry
	Store     *StoreMetrics
	Dispatch  *DispatchMetrics
	Actors    *ActorMetrics
	HTTP      *HTTPMetrics
	WebSocket *WebSocketMetrics
}

// NewSet creates a fresh registry and registers all instrument groups on it.
func NewSet() *Set {
	reg := NewRegistry()
	return &Set{
		Registry:  reg,
		Store:     NewStoreMetrics(reg),
		Dispatch:  NewDispatchMetrics(reg),
		Actors:    NewActorMetrics(reg),
		HTTP:      NewHTTPMetrics(reg),
		WebSocket: NewWebSocketMetrics(reg),
	}
}
