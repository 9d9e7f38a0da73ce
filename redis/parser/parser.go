package parser

import (
	"bytes"
	"strconv"

	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/redis/protocol"
)

// ProtocolError indicates the inbound byte stream violates RESP.
// It is fatal: the connection carrying the stream must be torn down.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// frame is a partially built array context
type frame struct {
	target   int
	elements []redis.Reply
}

// Parser is an incremental RESP decoder. Feed it chunks of arbitrary size
// and it returns every top-level reply completed so far; unconsumed bytes
// are retained across feeds. After a ProtocolError the parser is dead.
type Parser struct {
	buf     []byte
	stack   []*frame
	bulkLen int // length of the bulk string body being read, -1 if none
	err     error
}

// MakeParser creates an empty Parser
func MakeParser() *Parser {
	return &Parser{
		bulkLen: -1,
	}
}

// Feed consumes a chunk of inbound bytes and returns completed top-level
// replies in arrival order. Replies decoded before a framing error are
// still returned alongside the error.
func (p *Parser) Feed(chunk []byte) ([]redis.Reply, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.buf = append(p.buf, chunk...)
	var out []redis.Reply
	for p.err == nil {
		if p.bulkLen >= 0 {
			reply, ok := p.readBulkBody()
			if !ok {
				break
			}
			out = p.emit(reply, out)
			continue
		}
		line, ok := p.readLine()
		if !ok {
			break
		}
		reply, done := p.parseHeader(line)
		if done {
			out = p.emit(reply, out)
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil // do not pin a drained buffer
	}
	return out, p.err
}

// readLine returns the next CRLF-terminated line without its terminator
func (p *Parser) readLine() ([]byte, bool) {
	idx := bytes.IndexByte(p.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	if idx == 0 || p.buf[idx-1] != '\r' {
		p.fail("invalid line terminator")
		return nil, false
	}
	line := p.buf[:idx-1]
	p.buf = p.buf[idx+1:]
	if len(line) == 0 {
		p.fail("empty line")
		return nil, false
	}
	return line, true
}

// readBulkBody reads the body and trailer of the bulk string announced by
// the last $ header. The body is accumulated contiguously before emission.
func (p *Parser) readBulkBody() (redis.Reply, bool) {
	if len(p.buf) < p.bulkLen+2 {
		return nil, false
	}
	if p.buf[p.bulkLen] != '\r' || p.buf[p.bulkLen+1] != '\n' {
		p.fail("bad bulk string trailer")
		return nil, false
	}
	arg := make([]byte, p.bulkLen)
	copy(arg, p.buf[:p.bulkLen])
	p.buf = p.buf[p.bulkLen+2:]
	p.bulkLen = -1
	return protocol.MakeBulkReply(arg), true
}

// parseHeader decodes one type-prefixed line. For scalar types it returns
// the finished reply; for $ and non-empty * it only updates parser state.
func (p *Parser) parseHeader(line []byte) (redis.Reply, bool) {
	switch line[0] {
	case '+':
		return protocol.MakeStatusReply(string(line[1:])), true
	case '-':
		return protocol.MakeErrReply(string(line[1:])), true
	case ':':
		value, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			p.fail("illegal number " + string(line[1:]))
			return nil, false
		}
		return protocol.MakeIntReply(value), true
	case '$':
		strLen, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || strLen < -1 {
			p.fail("illegal bulk string header " + string(line))
			return nil, false
		}
		if strLen == -1 {
			return protocol.MakeNullBulkReply(), true
		}
		p.bulkLen = int(strLen)
		return nil, false
	case '*':
		nElems, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || nElems < -1 {
			p.fail("illegal array header " + string(line))
			return nil, false
		}
		if nElems == -1 {
			return protocol.MakeNullArrayReply(), true
		}
		if nElems == 0 {
			return protocol.MakeEmptyMultiBulkReply(), true
		}
		p.stack = append(p.stack, &frame{
			target:   int(nElems),
			elements: make([]redis.Reply, 0, nElems),
		})
		return nil, false
	}
	p.fail("unknown prefix " + strconv.QuoteRune(rune(line[0])))
	return nil, false
}

// emit places a finished reply into the innermost array frame, popping
// frames as they fill; a reply completed at the top level is appended to out
func (p *Parser) emit(reply redis.Reply, out []redis.Reply) []redis.Reply {
	for {
		if len(p.stack) == 0 {
			return append(out, reply)
		}
		top := p.stack[len(p.stack)-1]
		top.elements = append(top.elements, reply)
		if len(top.elements) < top.target {
			return out
		}
		p.stack = p.stack[:len(p.stack)-1]
		reply = protocol.MakeArrayReply(top.elements)
	}
}

func (p *Parser) fail(msg string) {
	p.err = &ProtocolError{Msg: msg}
}
