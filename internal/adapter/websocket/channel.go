package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/orderpulse/internal/adapter/metrics"
	"github.com/pscheid92/orderpulse/internal/session"
)

const (
	writeDeadline  = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongDeadline   = 60 * time.Second
	sendBufferSize = 16
	maxMessageSize = 4096
)

// Channel adapts a gorilla WebSocket connection to session.Channel. All
// writes go through a single writer goroutine; Send only enqueues.
type Channel struct {
	connection *websocket.Conn
	clock      clockwork.Clock
	kind       string
	metrics    *metrics.WebSocketMetrics

	sendChannel chan []byte
	stopChannel chan struct{}
	doneChannel chan struct{}
	stopOnce    sync.Once
	closeReason string

	activityMutex sync.Mutex
	lastActivity  time.Time
}

// NewChannel starts the writer for connection. kind labels the metrics
// ("orders" or "notifications").
func NewChannel(connection *websocket.Conn, clock clockwork.Clock, kind string, m *metrics.WebSocketMetrics) *Channel {
	ch := &Channel{
		connection:   connection,
		clock:        clock,
		kind:         kind,
		metrics:      m,
		sendChannel:  make(chan []byte, sendBufferSize),
		stopChannel:  make(chan struct{}),
		doneChannel:  make(chan struct{}),
		lastActivity: clock.Now(),
	}
	ch.configureReader()
	go ch.run()
	return ch
}

func (ch *Channel) Send(data []byte) error {
	select {
	case <-ch.doneChannel:
		return session.ErrClosed
	default:
	}

	select {
	case ch.sendChannel <- data:
		ch.metrics.Sent(ch.kind)
		return nil
	case <-ch.doneChannel:
		return session.ErrClosed
	default:
		return session.ErrSlowConsumer
	}
}

// Close asks the writer to send a close frame carrying reason and drop the
// connection. It does not wait; use Done for that.
func (ch *Channel) Close(reason string) {
	ch.stopOnce.Do(func() {
		ch.closeReason = reason
		close(ch.stopChannel)
	})
}

func (ch *Channel) LastActivity() time.Time {
	ch.activityMutex.Lock()
	defer ch.activityMutex.Unlock()
	return ch.lastActivity
}

// Done is closed once the writer has exited and the connection is closed.
func (ch *Channel) Done() <-chan struct{} {
	return ch.doneChannel
}

// ReadLoop reads frames until the connection fails or is closed, passing
// each text or binary payload to onMessage. It must be called from exactly
// one goroutine.
func (ch *Channel) ReadLoop(onMessage func(data []byte)) error {
	for {
		_, data, err := ch.connection.ReadMessage()
		if err != nil {
			return err
		}
		ch.updateReadDeadline()
		ch.recordActivity()
		onMessage(data)
	}
}

func (ch *Channel) run() {
	ticker := ch.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer close(ch.doneChannel)
	defer func() { _ = ch.connection.Close() }()

	for {
		select {
		case msg := <-ch.sendChannel:
			ch.updateWriteDeadline()
			if err := ch.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			ch.updateWriteDeadline()
			if err := ch.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ch.stopChannel:
			ch.flush()
			ch.writeClose()
			return
		}
	}
}

// flush writes whatever was queued before Close was called.
func (ch *Channel) flush() {
	for {
		select {
		case msg := <-ch.sendChannel:
			ch.updateWriteDeadline()
			if err := ch.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ch *Channel) writeClose() {
	code := websocket.CloseNormalClosure
	if ch.closeReason == session.ReasonShutdown {
		code = websocket.CloseGoingAway
	}
	// Close frame payloads are limited to 125 bytes, two of which are the code.
	reason := ch.closeReason
	if len(reason) > 123 {
		reason = reason[:123]
	}
	ch.updateWriteDeadline()
	_ = ch.connection.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (ch *Channel) configureReader() {
	ch.connection.SetReadLimit(maxMessageSize)
	ch.updateReadDeadline()
	ch.connection.SetPongHandler(func(string) error {
		ch.updateReadDeadline()
		ch.recordActivity()
		return nil
	})
}

func (ch *Channel) updateWriteDeadline() {
	_ = ch.connection.SetWriteDeadline(ch.clock.Now().Add(writeDeadline))
}

func (ch *Channel) updateReadDeadline() {
	_ = ch.connection.SetReadDeadline(ch.clock.Now().Add(pongDeadline))
}

func (ch *Channel) recordActivity() {
	ch.activityMutex.Lock()
	defer ch.activityMutex.Unlock()
	ch.lastActivity = ch.clock.Now()
}
