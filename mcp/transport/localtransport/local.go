// Package localtransport provides an in-process transport.Channel that routes every sent
// message to a Handler and queues the handler's replies for Receive.
// It runs a protocol client against an in-memory server without a child process.
package localtransport

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
)

// Handler handles a message sent over the channel and returns the replies, if any.
type Handler interface {
	HandleMessage(ctx context.Context, msg *transport.Message) []*transport.Message
}

// HandlerFunc is an adapter to use a function as a Handler
type HandlerFunc func(ctx context.Context, msg *transport.Message) []*transport.Message

// HandleMessage implements Handler
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *transport.Message) []*transport.Message {
	return f(ctx, msg)
}

// Channel is an in-process transport.Channel
type Channel struct {
	handler Handler
	inbox   chan *transport.Message
	done    chan struct{}
	remote  chan struct{}
	wg      sync.WaitGroup

	closed     atomic.Bool
	sent       atomic.Uint64
	closeOnce  sync.Once
	remoteOnce sync.Once
}

var _ transport.Channel = (*Channel)(nil)

// New returns a channel connected to the handler
func New(handler Handler) *Channel {
	return &Channel{
		handler: handler,
		inbox:   make(chan *transport.Message, 64),
		done:    make(chan struct{}),
		remote:  make(chan struct{}),
	}
}

// Send implements transport.Channel.
// The handler runs on its own goroutine, so Send never waits for the reply.
func (c *Channel) Send(ctx context.Context, msg *transport.Message) error {
	if c.closed.Load() {
		return errors.WithStack(mcperr.ErrChannelClosed)
	}
	if err := ctx.Err(); err != nil {
		return mcperr.Mark(err, mcperr.ErrCancelled)
	}
	c.sent.Add(1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, reply := range c.handler.HandleMessage(context.WithoutCancel(ctx), msg) {
			if !c.Push(reply) {
				return
			}
		}
	}()
	return nil
}

// Push queues a message for Receive, as if the peer had sent it.
// It returns false if the channel is closed or the peer disconnected.
func (c *Channel) Push(msg *transport.Message) bool {
	select {
	case <-c.done:
		return false
	case <-c.remote:
		return false
	default:
	}
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	case <-c.remote:
		return false
	}
}

// Receive implements transport.Channel
func (c *Channel) Receive() iter.Seq2[*transport.Message, error] {
	return func(yield func(*transport.Message, error) bool) {
		for {
			select {
			case msg := <-c.inbox:
				if !yield(msg, nil) {
					return
				}
			case <-c.done:
				return
			case <-c.remote:
				return
			}
		}
	}
}

// Disconnect simulates the peer going away: Receive ends as on EOF,
// while Send keeps accepting messages until Close.
func (c *Channel) Disconnect() {
	c.remoteOnce.Do(func() {
		close(c.remote)
	})
}

// Close implements transport.Channel
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// Wait blocks until all in-flight handler calls return
func (c *Channel) Wait() {
	c.wg.Wait()
}

// SentCount implements transport.Channel
func (c *Channel) SentCount() uint64 {
	return c.sent.Load()
}
