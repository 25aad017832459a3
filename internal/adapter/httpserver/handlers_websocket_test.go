package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/orderpulse/internal/domain"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 10 * time.Millisecond
)

func startHTTPServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestOrderSocket_InitialSnapshotAndUpdates(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	conn := dial(t, base+"/ws/orders/restaurant:r1?sessionId=kitchen-1")
	initial := readJSON(t, conn)
	assert.Equal(t, domain.MsgInitialOrders, initial["type"])
	assert.Empty(t, initial["orders"])

	rec := doRequest(t, srv, http.MethodPost, "/api/orders/status",
		`{"orderId":"ord_1","status":"preparing","restaurantId":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	update := readJSON(t, conn)
	assert.Equal(t, domain.MsgOrderUpdate, update["type"])
	order := update["order"].(map[string]any)
	assert.Equal(t, "ord_1", order["orderId"])
	assert.Equal(t, "preparing", order["status"])
}

func TestOrderSocket_BareRestaurantID(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	rec := doRequest(t, srv, http.MethodPost, "/api/orders/status",
		`{"orderId":"ord_9","status":"ready","restaurantId":"r9"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	conn := dial(t, base+"/ws/orders/r9")
	initial := readJSON(t, conn)
	orders := initial["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord_9", orders[0].(map[string]any)["orderId"])
}

func TestOrderSocket_OrderPartitionReceivesMirror(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	conn := dial(t, base+"/ws/orders/order:ord_5")
	readJSON(t, conn) // initial_orders

	rec := doRequest(t, srv, http.MethodPost, "/api/orders/status",
		`{"orderId":"ord_5","status":"out_for_delivery","restaurantId":"r1","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	update := readJSON(t, conn)
	assert.Equal(t, domain.MsgOrderUpdate, update["type"])
	assert.Equal(t, "out_for_delivery", update["order"].(map[string]any)["status"])
}

func TestOrderSocket_PingAndSubscribe(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	conn := dial(t, base+"/ws/orders/global")
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, domain.MsgPong, readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe_order","orderId":"ord_1"}`)))
	ack := readJSON(t, conn)
	assert.Equal(t, domain.MsgOrderSubscribed, ack["type"])
	assert.Equal(t, "ord_1", ack["orderId"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, domain.MsgError, readJSON(t, conn)["type"])
}

func TestOrderSocket_InvalidPartition(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/orders/order:", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotificationSocket_PendingAndLiveDelivery(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	rec := doRequest(t, srv, http.MethodPost, "/api/notifications/send", `{"userId":"u1","message":"first"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	conn := dial(t, base+"/ws/notifications?userId=u1")
	pending := readJSON(t, conn)
	assert.Equal(t, domain.MsgPendingNotifications, pending["type"])
	require.Len(t, pending["notifications"].([]any), 1)

	rec = doRequest(t, srv, http.MethodPost, "/api/notifications/send", `{"userId":"u1","message":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	live := readJSON(t, conn)
	assert.Equal(t, domain.MsgNotification, live["type"])
	assert.Equal(t, "second", live["notification"].(map[string]any)["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mark_all_read"}`)))
	ack := readJSON(t, conn)
	assert.Equal(t, domain.MsgMarkedRead, ack["type"])
	assert.InDelta(t, 2, ack["count"], 0)
}

func TestNotificationSocket_RequiresUser(t *testing.T) {
	srv := newTestServer(t)
	base := startHTTPServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/notifications", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	srv := newTestServer(t, withMaxConnections(1))
	base := startHTTPServer(t, srv)

	conn := dial(t, base+"/ws/orders/r1")
	readJSON(t, conn)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/orders/r1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocket_DisconnectReleasesSlot(t *testing.T) {
	srv := newTestServer(t, withMaxConnections(1))
	base := startHTTPServer(t, srv)

	conn := dial(t, base+"/ws/orders/r1")
	readJSON(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return srv.connections.count() == 0
	}, waitTimeout, waitTick)

	again := dial(t, base+"/ws/orders/r1")
	assert.Equal(t, domain.MsgInitialOrders, readJSON(t, again)["type"])
}
