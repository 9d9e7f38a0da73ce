package client

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/protocol"
	"github.com/hdt3213/redimux/redis/protocol/asserts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// txServer queues commands between MULTI and EXEC like redis does
type txServer struct {
	mu      sync.Mutex
	inMulti bool
	queued  int
	counter int
}

func (s *txServer) handle(args [][]byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch string(args[0]) {
	case "MULTI":
		s.inMulti = true
		s.queued = 0
		return []byte("+OK\r\n")
	case "EXEC":
		s.inMulti = false
		out := []byte("*" + strconv.Itoa(s.queued) + "\r\n")
		for i := 0; i < s.queued; i++ {
			s.counter++
			out = append(out, []byte(":"+strconv.Itoa(s.counter)+"\r\n")...)
		}
		return out
	case "DISCARD":
		s.inMulti = false
		s.queued = 0
		return []byte("+OK\r\n")
	default:
		if s.inMulti {
			s.queued++
			return protocol.MakeQueuedReply().ToBytes()
		}
		return []byte("+OK\r\n")
	}
}

func TestMultiExec(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	var first, second *Future
	err := c.Multi(func(tx *Transaction) error {
		first = tx.Exec(utils.ToCmdLine("INCR", "a"))
		second = tx.Exec(utils.ToCmdLine("INCR", "a"))
		return nil
	})
	require.NoError(t, err)

	reply, err := first.Get()
	require.NoError(t, err)
	asserts.AssertIntReply(t, reply, 1)

	reply, err = second.Get()
	require.NoError(t, err)
	asserts.AssertIntReply(t, reply, 2)

	assert.False(t, c.InMultiState())
}

func TestMultiClosureErrorDiscards(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	boom := errors.New("boom")
	var captured *Future
	err := c.Multi(func(tx *Transaction) error {
		captured = tx.Exec(utils.ToCmdLine("INCR", "a"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = captured.Get()
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.False(t, c.InMultiState())
}

func TestMultiExplicitDiscard(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	var captured *Future
	err := c.Multi(func(tx *Transaction) error {
		captured = tx.Exec(utils.ToCmdLine("SET", "a", "1"))
		tx.Discard()
		return nil
	})
	require.NoError(t, err)

	_, err = captured.Get()
	assert.ErrorIs(t, err, ErrTransactionAborted)
}

func TestMultiClosurePanicDiscards(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	err := c.Multi(func(tx *Transaction) error {
		panic("nope")
	})
	require.Error(t, err)
	assert.False(t, c.InMultiState())
}

func TestNestedMultiRejected(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	err := c.Multi(func(tx *Transaction) error {
		_, nested := c.Exec(utils.ToCmdLine("MULTI")).Get()
		return nested
	})
	misuse := &MisuseError{}
	require.ErrorAs(t, err, &misuse)
	assert.Equal(t, "nested transaction", misuse.Reason)
	assert.False(t, c.InMultiState())
}

func TestEmptyTransaction(t *testing.T) {
	srv := &txServer{}
	c, _ := startTestClient(t, nil, srv.handle)
	defer c.Close()

	require.NoError(t, c.Multi(func(tx *Transaction) error {
		return nil
	}))
}

func TestNullExecReplyAborts(t *testing.T) {
	c, _ := startTestClient(t, nil, func(args [][]byte) []byte {
		switch string(args[0]) {
		case "MULTI":
			return []byte("+OK\r\n")
		case "EXEC":
			return []byte("*-1\r\n") // optimistic lock gave way
		default:
			return protocol.MakeQueuedReply().ToBytes()
		}
	})
	defer c.Close()

	var captured *Future
	err := c.Multi(func(tx *Transaction) error {
		captured = tx.Exec(utils.ToCmdLine("INCR", "a"))
		return nil
	})
	assert.ErrorIs(t, err, ErrTransactionAborted)
	_, err = captured.Get()
	assert.ErrorIs(t, err, ErrTransactionAborted)
}
