package connection

import (
	"io"
	"sync"

	"github.com/hdt3213/redimux/interface/redis"
)

// FakeTransport implements redis.Transport for tests. A test installs a
// write handler playing the server role and pushes replies back through
// Reply; nothing touches the network.
type FakeTransport struct {
	mu        sync.Mutex
	sink      redis.TransportSink
	written   []byte
	onWrite   func(b []byte)
	closed    bool
	closeOnce sync.Once
}

// NewFakeTransport creates an open FakeTransport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// HandleWrites installs the scripted server; the handler runs on the
// writer's goroutine and may call Reply
func (t *FakeTransport) HandleWrites(fn func(b []byte)) {
	t.mu.Lock()
	t.onWrite = fn
	t.mu.Unlock()
}

// Start installs the sink
func (t *FakeTransport) Start(sink redis.TransportSink) error {
	t.sink = sink
	return nil
}

// Write records outbound bytes and hands them to the scripted server
func (t *FakeTransport) Write(b []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return io.ErrClosedPipe
	}
	t.written = append(t.written, b...)
	fn := t.onWrite
	t.mu.Unlock()
	if fn != nil {
		cp := make([]byte, len(b))
		copy(cp, b)
		fn(cp)
	}
	return nil
}

// Reply pushes server bytes into the sink
func (t *FakeTransport) Reply(b []byte) {
	t.sink.OnRead(b)
}

// Written returns everything written so far
func (t *FakeTransport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(t.written))
	copy(cp, t.written)
	return cp
}

// Close marks the transport closed and reports clean EOF to the sink
func (t *FakeTransport) Close() error {
	t.closeWith(nil)
	return nil
}

// Fail simulates an abrupt connection error
func (t *FakeTransport) Fail(err error) {
	t.closeWith(err)
}

func (t *FakeTransport) closeWith(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		if t.sink != nil {
			t.sink.OnClosed(err)
		}
	})
}
