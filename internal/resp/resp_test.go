package resp

import (
	"bufio"
	"bytes"
	"testing"
)

func TestParserSingleFrame(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))

	args, ready, err := p.Next()
	if err != nil || !ready {
		t.Fatalf("Next = (%v, %v, %v), want ready frame", args, ready, err)
	}
	if len(args) != 2 || string(args[0]) != "GET" || string(args[1]) != "foo" {
		t.Fatalf("args = %v, want [GET foo]", args)
	}

	if _, ready, err := p.Next(); err != nil || ready {
		t.Fatalf("second Next on drained buffer = (ready=%v, err=%v), want not ready", ready, err)
	}
}

func TestParserPartialFrameAcrossFeeds(t *testing.T) {
	p := NewParser()
	whole := []byte("*1\r\n$4\r\nPING\r\n")

	for i := 1; i < len(whole); i++ {
		p.Feed(whole[i-1 : i])
		if _, ready, err := p.Next(); err != nil || ready {
			t.Fatalf("byte %d: Next = (ready=%v, err=%v), want not ready", i, ready, err)
		}
	}
	p.Feed(whole[len(whole)-1:])

	args, ready, err := p.Next()
	if err != nil || !ready {
		t.Fatalf("final Next = (ready=%v, err=%v), want ready", ready, err)
	}
	if len(args) != 1 || string(args[0]) != "PING" {
		t.Fatalf("args = %v, want [PING]", args)
	}
}

func TestParserPipelinedFrames(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"))

	for i := 0; i < 2; i++ {
		args, ready, err := p.Next()
		if err != nil || !ready {
			t.Fatalf("frame %d: Next = (ready=%v, err=%v)", i, ready, err)
		}
		if len(args) != 1 || string(args[0]) != "PING" {
			t.Fatalf("frame %d args = %v", i, args)
		}
	}
	if _, ready, err := p.Next(); err != nil || ready {
		t.Fatal("expected buffer drained after two pipelined frames")
	}
}

func TestParserNullArrayIsEmptyCommand(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("*-1\r\n"))
	args, ready, err := p.Next()
	if err != nil || !ready || len(args) != 0 {
		t.Fatalf("Next = (%v,%v,%v), want empty ready command", args, ready, err)
	}
}

func TestParserRejectsBadHeader(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("+OK\r\n"))
	if _, _, err := p.Next(); err == nil {
		t.Fatal("expected protocol error for non-array header")
	}
}

func TestParserRejectsMissingCRLF(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("*1\r\n$4\r\nPINGxx"))
	if _, _, err := p.Next(); err == nil {
		t.Fatal("expected protocol error for missing trailing CRLF")
	}
}

func writeReply(t *testing.T, r Reply) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := Write(w, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.String()
}

func TestWriteSimple(t *testing.T) {
	if got := writeReply(t, Simple("PONG")); got != "+PONG\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteOK(t *testing.T) {
	if got := writeReply(t, OK()); got != "+OK\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteInt(t *testing.T) {
	if got := writeReply(t, Int(-5)); got != ":-5\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteBulk(t *testing.T) {
	if got := writeReply(t, BulkString("bar")); got != "$3\r\nbar\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteNil(t *testing.T) {
	if got := writeReply(t, Nil()); got != "$-1\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteFloat(t *testing.T) {
	if got := writeReply(t, Float(7)); got != "$3\r\n7.0\r\n" {
		t.Fatalf("got %q", got)
	}
	if got := writeReply(t, Float(2.5)); got != "$3\r\n2.5\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteArrayNested(t *testing.T) {
	r := Array([]Reply{BulkString("a"), Int(1), Nil(), Array([]Reply{Simple("x")})})
	want := "*4\r\n$1\r\na\r\n:1\r\n$-1\r\n*1\r\n+x\r\n"
	if got := writeReply(t, r); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteError(t *testing.T) {
	if got := writeReply(t, Err("ERR bad arity")); got != "-ERR bad arity\r\n" {
		t.Fatalf("got %q", got)
	}
}
