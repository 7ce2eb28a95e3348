package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabsplit/billsync/interfaces"
)

// Channel is the pluggable bidirectional message stream between a client
// and the relay. Closing a channel at any point is always safe and is the
// only cancellation primitive.
type Channel interface {
	// Send writes one message. It is safe for concurrent use.
	Send(ctx context.Context, msg Message) error

	// Receive blocks until the next message, the context is done, or the
	// channel closes.
	Receive(ctx context.Context) (Message, error)

	// Close tears the channel down. Subsequent Sends fail and pending
	// Receives return ErrTransport. Close is idempotent.
	Close() error
}

// pipeChannel is an in-process Channel half used by tests and in-process
// clients.
type pipeChannel struct {
	in     chan Message
	out    chan Message
	closed chan struct{}
	once   sync.Once
	peer   *pipeChannel
}

// Pipe returns two connected in-process channels. Messages sent on one are
// received on the other. Closing either side unblocks both.
func Pipe() (Channel, Channel) {
	a2b := make(chan Message, 16)
	b2a := make(chan Message, 16)

	a := &pipeChannel{in: b2a, out: a2b, closed: make(chan struct{})}
	b := &pipeChannel{in: a2b, out: b2a, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *pipeChannel) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: channel closed", interfaces.ErrTransport)
	case <-c.peer.closed:
		return fmt.Errorf("%w: peer channel closed", interfaces.ErrTransport)
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return fmt.Errorf("%w: channel closed", interfaces.ErrTransport)
	case <-c.peer.closed:
		return fmt.Errorf("%w: peer channel closed", interfaces.ErrTransport)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", interfaces.ErrTransport, ctx.Err())
	}
}

func (c *pipeChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return Message{}, fmt.Errorf("%w: channel closed", interfaces.ErrTransport)
	case <-c.peer.closed:
		// Drain anything already in flight before reporting the close.
		select {
		case msg := <-c.in:
			return msg, nil
		default:
			return Message{}, fmt.Errorf("%w: peer channel closed", interfaces.ErrTransport)
		}
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: %v", interfaces.ErrTransport, ctx.Err())
	}
}

func (c *pipeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
