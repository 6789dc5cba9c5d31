// The relay-side handle for one connected client: identity plus the
// outbound queue drained by the connection's write pump. Enqueue never
// blocks; a full queue means the consumer is too slow and the frame is
// dropped, so one stalled connection cannot hold up a whole session.

package relay

import "sync"

// Client is the live connection handle the router delivers to.
type Client struct {
	ID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(id string, buffer int) *Client {
	return &Client{
		ID:   id,
		send: make(chan []byte, buffer),
	}
}

// Outbound is the queue the write pump drains. It is closed when the
// client disconnects.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// enqueue offers one frame to the client. It reports false when the
// frame was dropped because the client is gone or its queue is full.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the outbound queue. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
