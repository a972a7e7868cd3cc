package transport

import (
	"fmt"
	"sync"
)

// loopbackConn is one endpoint of an in-process channel pair: Push lands on
// the peer's Fetch. The channel-based bus is the primitive bridge
// producers/consumers build on; tests and
// the single-process distributed scheduler use it in place of a network
// transport.
type loopbackConn struct {
	send chan<- Message
	recv <-chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewLoopback returns two connected endpoints with the given buffer depth
// per direction.
func NewLoopback(depth int) (Conn, Conn) {
	if depth < 1 {
		depth = 1
	}
	ab := make(chan Message, depth)
	ba := make(chan Message, depth)
	done := make(chan struct{})
	a := &loopbackConn{send: ab, recv: ba, done: done}
	b := &loopbackConn{send: ba, recv: ab, done: done}
	return a, b
}

func (c *loopbackConn) Push(m Message) error {
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return fmt.Errorf("transport: loopback closed")
	}
}

func (c *loopbackConn) Fetch() (Message, error) {
	select {
	case m := <-c.recv:
		return m, nil
	case <-c.done:
		// Drain anything already buffered before reporting closure.
		select {
		case m := <-c.recv:
			return m, nil
		default:
		}
		return Message{}, fmt.Errorf("transport: loopback closed")
	}
}

func (c *loopbackConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
