package connection

import (
	"io"
	"net"
	"sync"

	"github.com/hdt3213/redimux/interface/redis"
	atomiclib "github.com/hdt3213/redimux/lib/sync/atomic"
)

const readBufferSize = 4096

// TCPTransport drives a net.Conn. A background goroutine pushes inbound
// chunks into the sink; the chunk buffer is reused, sinks must not retain it.
type TCPTransport struct {
	conn      net.Conn
	sink      redis.TransportSink
	closing   atomiclib.Boolean
	closeOnce sync.Once
}

// Dial connects to the given address and returns an unstarted transport
func Dial(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPTransport(conn), nil
}

// NewTCPTransport wraps an established connection
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{
		conn: conn,
	}
}

// Start installs the sink and launches the read loop
func (t *TCPTransport) Start(sink redis.TransportSink) error {
	t.sink = sink
	go t.readLoop()
	return nil
}

func (t *TCPTransport) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.sink.OnRead(buf[:n])
		}
		if err != nil {
			if err == io.EOF || t.closing.Get() {
				t.sink.OnClosed(nil)
			} else {
				t.sink.OnClosed(err)
			}
			return
		}
	}
}

// Write sends bytes over the connection
func (t *TCPTransport) Write(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

// Close closes the connection in both directions; it does not half-close.
// The read loop then stops and reports a clean close (nil error) to the sink.
func (t *TCPTransport) Close() error {
	t.closing.Set(true)
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
