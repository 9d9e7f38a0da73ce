package client

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hdt3213/redimux/config"
	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/connection"
	"github.com/hdt3213/redimux/redis/parser"
	"github.com/hdt3213/redimux/redis/protocol"
	"github.com/hdt3213/redimux/redis/protocol/asserts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestClient wires a client to a scripted in-memory server. The handler
// receives each decoded command and returns raw reply bytes, or nil to stay
// silent.
func startTestClient(t *testing.T, props *config.ClientProperties,
	handle func(args [][]byte) []byte) (*Client, *connection.FakeTransport) {
	t.Helper()
	ft := connection.NewFakeTransport()
	c := MakeClientWithTransport(ft, props)
	ft.HandleWrites(func(b []byte) {
		for _, args := range decodeCommands(t, b) {
			if resp := handle(args); resp != nil {
				ft.Reply(resp)
			}
		}
	})
	require.NoError(t, c.Connect())
	return c, ft
}

func decodeCommands(t *testing.T, b []byte) [][][]byte {
	t.Helper()
	replies, err := parser.ParseBytes(b)
	require.NoError(t, err)
	cmdLines := make([][][]byte, 0, len(replies))
	for _, reply := range replies {
		arr, ok := reply.(*protocol.ArrayReply)
		require.True(t, ok, "command is not an array: %s", reply.ToBytes())
		args := make([][]byte, 0, len(arr.Elements))
		for _, element := range arr.Elements {
			bulk, ok := element.(*protocol.BulkReply)
			require.True(t, ok, "argument is not a bulk string")
			args = append(args, bulk.Arg)
		}
		cmdLines = append(cmdLines, args)
	}
	return cmdLines
}

func TestSetGet(t *testing.T) {
	store := make(map[string]string)
	var mu sync.Mutex
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		switch string(args[0]) {
		case "SET":
			store[string(args[1])] = string(args[2])
			return []byte("+OK\r\n")
		case "GET":
			v, ok := store[string(args[1])]
			if !ok {
				return []byte("$-1\r\n")
			}
			return protocol.MakeBulkReply([]byte(v)).ToBytes()
		}
		return []byte("-ERR unknown command\r\n")
	})
	defer c.Close()

	reply, err := c.Exec(utils.ToCmdLine("SET", "foo", "bar")).Get()
	require.NoError(t, err)
	asserts.AssertStatusReply(t, reply, "OK")

	reply, err = c.Exec(utils.ToCmdLine("GET", "foo")).Get()
	require.NoError(t, err)
	asserts.AssertBulkReply(t, reply, "bar")

	reply, err = c.Exec(utils.ToCmdLine("GET", "missing")).Get()
	require.NoError(t, err)
	asserts.AssertNullBulk(t, reply)
}

func TestPipelineOrdering(t *testing.T) {
	counter := 0
	var mu sync.Mutex
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return []byte(":" + strconv.Itoa(counter) + "\r\n")
	})
	defer c.Close()

	futs := make([]*Future, 3)
	for i := range futs {
		futs[i] = c.Exec(utils.ToCmdLine("INCR", "k"))
	}
	for i, fut := range futs {
		reply, err := fut.Get()
		require.NoError(t, err)
		asserts.AssertIntReply(t, reply, i+1)
	}
	assert.Equal(t, 0, c.PipelineDepth())
}

func TestServerErrorKeepsConnection(t *testing.T) {
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		if string(args[0]) == "PING" {
			return []byte("+PONG\r\n")
		}
		return []byte("-WRONGTYPE Operation against a key holding the wrong kind of value\r\n")
	})
	defer c.Close()

	reply, err := c.Exec(utils.ToCmdLine("LPUSH", "str", "x")).Get()
	require.Error(t, err)
	serverErr := &ServerError{}
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "WRONGTYPE", serverErr.Kind)
	assert.NotNil(t, reply) // the raw error reply is still surfaced

	// the connection is still usable afterwards
	reply, err = c.Exec(utils.ToCmdLine("PING")).Get()
	require.NoError(t, err)
	asserts.AssertStatusReply(t, reply, "PONG")
}

func TestAuthOnConnect(t *testing.T) {
	var gotAuth []byte
	var mu sync.Mutex
	handle := func(args [][]byte) []byte {
		if string(args[0]) == "AUTH" {
			mu.Lock()
			gotAuth = args[1]
			mu.Unlock()
			if string(args[1]) == "sesame" {
				return []byte("+OK\r\n")
			}
			return []byte("-ERR invalid password\r\n")
		}
		return []byte("+PONG\r\n")
	}

	props := config.DefaultProperties()
	props.Auth = "sesame"
	ft := connection.NewFakeTransport()
	c := MakeClientWithTransport(ft, props)
	ft.HandleWrites(func(b []byte) {
		for _, args := range decodeCommands(t, b) {
			if resp := handle(args); resp != nil {
				ft.Reply(resp)
			}
		}
	})
	require.NoError(t, c.Connect())
	mu.Lock()
	assert.Equal(t, "sesame", string(gotAuth))
	mu.Unlock()
	c.Close()

	props = config.DefaultProperties()
	props.Auth = "wrong"
	ft = connection.NewFakeTransport()
	c = MakeClientWithTransport(ft, props)
	ft.HandleWrites(func(b []byte) {
		for _, args := range decodeCommands(t, b) {
			if resp := handle(args); resp != nil {
				ft.Reply(resp)
			}
		}
	})
	require.Error(t, c.Connect())
}

func TestDisconnectFailsPending(t *testing.T) {
	c, ft := startTestClient(t, nil, func(args [][]byte) []byte {
		return nil // never answer
	})

	disconnected := make(chan struct{})
	c.OnDisconnect(func() {
		close(disconnected)
	})

	futs := make([]*Future, 3)
	for i := range futs {
		futs[i] = c.Exec(utils.ToCmdLine("GET", "k"+strconv.Itoa(i)))
	}
	// wait until every request reached the pending queue
	deadline := time.Now().Add(time.Second)
	for c.PipelineDepth() != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 3, c.PipelineDepth())

	ft.Fail(io.ErrUnexpectedEOF)
	for _, fut := range futs {
		_, err := fut.Get()
		assert.ErrorIs(t, err, ErrDisconnected)
	}

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("on disconnect hook did not fire")
	}

	_, err := c.Exec(utils.ToCmdLine("GET", "x")).Get()
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestCancelKeepsStreamAligned(t *testing.T) {
	gate := make(chan struct{})
	var ft *connection.FakeTransport
	c, started := startTestClient(t, nil, func(args [][]byte) []byte {
		if string(args[0]) == "SLOW" {
			go func() {
				<-gate
				ft.Reply([]byte("$4\r\nlate\r\n"))
			}()
			return nil
		}
		return []byte("+PONG\r\n")
	})
	ft = started
	defer c.Close()

	slow := c.Exec(utils.ToCmdLine("SLOW"))
	slow.Cancel()
	_, err := slow.Get()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, slow.Cancelled())

	// the late reply is consumed by the cancelled entry, not by the ping
	fast := c.Exec(utils.ToCmdLine("PING"))
	close(gate)
	reply, err := fast.Get()
	require.NoError(t, err)
	asserts.AssertStatusReply(t, reply, "PONG")
}

func TestFramingErrorTearsDown(t *testing.T) {
	c, ft := startTestClient(t, nil, func(args [][]byte) []byte {
		return nil
	})
	fut := c.Exec(utils.ToCmdLine("GET", "x"))
	ft.Reply([]byte("!not-resp\r\n"))
	_, err := fut.Get()
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestOrphanReplyTearsDown(t *testing.T) {
	c, ft := startTestClient(t, nil, func(args [][]byte) []byte {
		return nil
	})
	ft.Reply([]byte("+OK\r\n")) // no request outstanding
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.Exec(utils.ToCmdLine("PING")).GetWithTimeout(10 * time.Millisecond); err == ErrDisconnected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connection survived an orphan reply")
}

func TestSend(t *testing.T) {
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		return []byte("+PONG\r\n")
	})
	defer c.Close()
	asserts.AssertStatusReply(t, c.Send(utils.ToCmdLine("PING")), "PONG")
}

func TestFutureLabels(t *testing.T) {
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		return []byte("+OK\r\n")
	})
	defer c.Close()
	fut := c.Exec(utils.ToCmdLine("set", "a", "b"))
	assert.Equal(t, "SET", fut.Label())
	assert.NotZero(t, fut.ID())
	_, err := fut.Get()
	require.NoError(t, err)
}

func ExampleClient_Exec() {
	c, err := MakeClient("localhost:6379")
	if err != nil {
		fmt.Println(err)
		return
	}
	if err = c.Connect(); err != nil {
		fmt.Println(err)
		return
	}
	defer c.Close()
	reply, err := c.Exec(utils.ToCmdLine("SET", "greeting", "hello")).Get()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(reply.ToBytes()))
}
