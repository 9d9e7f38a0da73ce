package client

import (
	"context"
	"sync"
	"time"

	"github.com/hdt3213/redimux/interface/redis"
	atomiclib "github.com/hdt3213/redimux/lib/sync/atomic"
)

// Future is the single-shot result of one submitted command
type Future struct {
	id        int64
	label     string
	done      chan struct{}
	once      sync.Once
	reply     redis.Reply
	err       error
	cancelled atomiclib.Boolean
}

func (c *Client) newFuture(label string) *Future {
	return &Future{
		id:    c.idGen.NextID(),
		label: label,
		done:  make(chan struct{}),
	}
}

func (f *Future) resolve(reply redis.Reply, err error) {
	f.once.Do(func() {
		f.reply = reply
		f.err = err
		close(f.done)
	})
}

// Get blocks until the reply arrives, the connection drops or the future is
// cancelled. A server error reply is returned both as the reply and as a
// *ServerError.
func (f *Future) Get() (redis.Reply, error) {
	<-f.done
	return f.reply, f.err
}

// GetWithTimeout is Get bounded by a deadline. On timeout the request stays
// in flight; cancel it explicitly if the reply should be discarded.
func (f *Future) GetWithTimeout(timeout time.Duration) (redis.Reply, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// GetContext is Get bounded by a context
func (f *Future) GetContext(ctx context.Context) (redis.Reply, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel marks the future cancelled. The command has already been written,
// so its queue entry survives and the eventual reply is consumed and
// dropped to keep the stream aligned.
func (f *Future) Cancel() {
	f.cancelled.Set(true)
	f.resolve(nil, ErrCancelled)
}

// Cancelled reports whether Cancel was called
func (f *Future) Cancelled() bool {
	return f.cancelled.Get()
}

// Done exposes the completion signal for select loops
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// ID is the unique request id, usable as a tracing key
func (f *Future) ID() int64 {
	return f.id
}

// Label is a short human-readable command summary
func (f *Future) Label() string {
	return f.label
}
