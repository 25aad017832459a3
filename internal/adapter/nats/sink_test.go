package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/orderpulse/internal/domain"
)

func startNatsServer(t *testing.T) *natsserver.Server {
	t.Helper()

	serv, err := natsserver.NewServer(&natsserver.Options{
		Host: "127.0.0.1",
		Port: -1,
	})
	require.NoError(t, err)

	go serv.Start()
	if !serv.ReadyForConnections(2 * time.Second) {
		t.Fatalf("nats-io server failed to start")
	}
	t.Cleanup(serv.Shutdown)
	return serv
}

func TestSink_Send(t *testing.T) {
	serv := startNatsServer(t)

	sub, err := nats.Connect(serv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("orderpulse.order_status", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink, err := NewSink(serv.ClientURL(), "orderpulse.order_status")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	event := domain.DispatchEvent{
		Type:         domain.EventOrderStatusChanged,
		OrderID:      "ord_1",
		Status:       domain.StatusDelivered,
		RestaurantID: "r1",
		UserID:       "u1",
	}
	require.NoError(t, sink.Send(context.Background(), event))

	select {
	case msg := <-received:
		var got domain.DispatchEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, event, got)
		assert.Equal(t, "r1", msg.Header.Get("Nats-Restaurant"))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestSink_Ping(t *testing.T) {
	serv := startNatsServer(t)

	sink, err := NewSink(serv.ClientURL(), "orderpulse.order_status")
	require.NoError(t, err)
	assert.NoError(t, sink.Ping(context.Background()))
	assert.Equal(t, "nats", sink.Name())

	require.NoError(t, sink.Close())
	assert.Eventually(t, func() bool {
		return sink.Ping(context.Background()) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewSink_Unreachable(t *testing.T) {
	_, err := NewSink("nats://127.0.0.1:1", "x")
	assert.Error(t, err)
}
