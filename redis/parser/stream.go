package parser

import (
	"errors"
	"io"
	"runtime/debug"

	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/logger"
)

// Payload stores redis.Reply or error
type Payload struct {
	Data redis.Reply
	Err  error
}

const readChunkSize = 4096

// ParseStream reads data from io.Reader and send payloads through channel
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	go parse0(reader, ch)
	return ch
}

// ParseBytes reads data from []byte and return all replies
func ParseBytes(data []byte) ([]redis.Reply, error) {
	p := MakeParser()
	replies, err := p.Feed(data)
	if err != nil {
		return nil, err
	}
	return replies, nil
}

// ParseOne reads data from []byte and return the first reply
func ParseOne(data []byte) (redis.Reply, error) {
	replies, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, errors.New("no protocol")
	}
	return replies[0], nil
}

func parse0(rawReader io.Reader, ch chan<- *Payload) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	p := MakeParser()
	buf := make([]byte, readChunkSize)
	for {
		n, err := rawReader.Read(buf)
		if n > 0 {
			replies, perr := p.Feed(buf[:n])
			for _, reply := range replies {
				ch <- &Payload{Data: reply}
			}
			if perr != nil {
				ch <- &Payload{Err: perr}
				close(ch)
				return
			}
		}
		if err != nil {
			ch <- &Payload{Err: err}
			close(ch)
			return
		}
	}
}
