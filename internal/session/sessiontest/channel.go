// Package sessiontest provides an in-memory session.Channel for tests.
package sessiontest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pscheid92/orderpulse/internal/session"
)

// Channel records every message it is sent. After Close, Send fails with
// session.ErrClosed, like a real connection whose writer has exited.
type Channel struct {
	mu           sync.Mutex
	messages     [][]byte
	sendErr      error
	closeCount   int
	closeReason  string
	lastActivity time.Time
	sendAttempts int
}

var _ session.Channel = (*Channel)(nil)

func New() *Channel {
	return &Channel{lastActivity: time.Now()}
}

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendAttempts++
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closeCount > 0 {
		return session.ErrClosed
	}
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *Channel) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCount == 0 {
		c.closeReason = reason
	}
	c.closeCount++
}

func (c *Channel) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Channel) SetLastActivity(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = t
}

// FailWith makes every following Send return err.
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Channel) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

// Decoded returns every message unmarshalled into a generic map.
func (c *Channel) Decoded() []map[string]any {
	msgs := c.Messages()
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		var v map[string]any
		if err := json.Unmarshal(m, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// OfType returns the decoded messages whose "type" equals msgType.
func (c *Channel) OfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Decoded() {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *Channel) Last() map[string]any {
	d := c.Decoded()
	if len(d) == 0 {
		return nil
	}
	return d[len(d)-1]
}

func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *Channel) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Channel) SendAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendAttempts
}

func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
