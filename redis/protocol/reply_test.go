package protocol

import (
	"testing"

	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/utils"
)

func TestToBytes(t *testing.T) {
	cases := []struct {
		reply    redis.Reply
		expected string
	}{
		{MakeStatusReply("OK"), "+OK\r\n"},
		{MakeErrReply("ERR unknown"), "-ERR unknown\r\n"},
		{MakeIntReply(-42), ":-42\r\n"},
		{MakeBulkReply([]byte("bar")), "$3\r\nbar\r\n"},
		{MakeBulkReply([]byte{}), "$0\r\n\r\n"},
		{MakeNullBulkReply(), "$-1\r\n"},
		{MakeEmptyMultiBulkReply(), "*0\r\n"},
		{MakeNullArrayReply(), "*-1\r\n"},
		{MakeOkReply(), "+OK\r\n"},
		{MakeQueuedReply(), "+QUEUED\r\n"},
		{&PongReply{}, "+PONG\r\n"},
		{MakeMultiBulkReply(utils.ToCmdLine("GET", "foo")), "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"},
		{MakeArrayReply([]redis.Reply{
			MakeBulkReply([]byte("message")),
			MakeBulkReply([]byte("news")),
			MakeBulkReply([]byte("hello")),
		}), "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n"},
		{MakeArrayReply([]redis.Reply{
			MakeIntReply(1),
			MakeArrayReply([]redis.Reply{MakeStatusReply("OK")}),
		}), "*2\r\n:1\r\n*1\r\n+OK\r\n"},
	}
	for _, tt := range cases {
		if !utils.BytesEquals(tt.reply.ToBytes(), []byte(tt.expected)) {
			t.Errorf("expected %q, actually %q", tt.expected, tt.reply.ToBytes())
		}
	}
}

func TestNilArgEncodesNull(t *testing.T) {
	re := MakeMultiBulkReply([][]byte{[]byte("a"), nil})
	expected := "*2\r\n$1\r\na\r\n$-1\r\n"
	if string(re.ToBytes()) != expected {
		t.Errorf("expected %q, actually %q", expected, re.ToBytes())
	}
}

func TestIsErrorReply(t *testing.T) {
	if !IsErrorReply(MakeErrReply("ERR x")) {
		t.Error("error reply not recognised")
	}
	if IsErrorReply(MakeOkReply()) {
		t.Error("ok reply recognised as error")
	}
	if !IsOKReply(MakeStatusReply("OK")) {
		t.Error("+OK not recognised")
	}
}
