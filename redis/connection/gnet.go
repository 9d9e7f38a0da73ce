package connection

import (
	"errors"
	"sync"

	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/logger"
	"github.com/panjf2000/gnet/v2"
)

// GnetTransport is an event-loop transport built on the gnet client engine.
// OnTraffic forwards inbound bytes to the sink on the loop goroutine.
type GnetTransport struct {
	gnet.BuiltinEventEngine
	addr      string
	cli       *gnet.Client
	conn      gnet.Conn
	sink      redis.TransportSink
	closeOnce sync.Once
}

// DialGnet creates an unstarted gnet transport for the given address
func DialGnet(addr string) *GnetTransport {
	return &GnetTransport{
		addr: addr,
	}
}

// Start boots the client event loop, dials and installs the sink
func (t *GnetTransport) Start(sink redis.TransportSink) error {
	t.sink = sink
	cli, err := gnet.NewClient(t)
	if err != nil {
		return err
	}
	t.cli = cli
	if err = cli.Start(); err != nil {
		return err
	}
	conn, err := cli.Dial("tcp", t.addr)
	if err != nil {
		_ = cli.Stop()
		return err
	}
	t.conn = conn
	return nil
}

// OnTraffic forwards every inbound chunk into the sink
func (t *GnetTransport) OnTraffic(c gnet.Conn) gnet.Action {
	buf, err := c.Next(-1)
	if err != nil {
		logger.Errorf("gnet read failed: %v", err)
		return gnet.Close
	}
	if len(buf) > 0 {
		t.sink.OnRead(buf)
	}
	return gnet.None
}

// OnClose reports the broken connection to the sink
func (t *GnetTransport) OnClose(c gnet.Conn, err error) gnet.Action {
	t.sink.OnClosed(err)
	return gnet.None
}

// Write asynchronously queues bytes on the event loop, preserving order
func (t *GnetTransport) Write(b []byte) error {
	if t.conn == nil {
		return errors.New("gnet transport not started")
	}
	return t.conn.AsyncWrite(b, nil)
}

// Close tears down the connection and stops the client engine
func (t *GnetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.conn != nil {
			err = t.conn.Close()
		}
		if t.cli != nil {
			_ = t.cli.Stop()
		}
	})
	return err
}
