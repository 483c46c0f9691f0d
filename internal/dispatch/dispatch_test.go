package dispatch

import (
	"bufio"
	"bytes"
	"math/rand"
	"testing"

	"github.com/rkvlabs/rkv/internal/engine"
	"github.com/rkvlabs/rkv/internal/resp"
)

func newTestDispatcher(nowSeconds *float64) *Dispatcher {
	eng := engine.NewWithClock(func() float64 { return *nowSeconds }, rand.New(rand.NewSource(1)))
	return New(eng, nil)
}

func wire(t *testing.T, r resp.Reply) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := resp.Write(w, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Flush()
	return buf.String()
}

func cmd(parts ...string) [][]byte {
	args := make([][]byte, len(parts))
	for i, p := range parts {
		args[i] = []byte(p)
	}
	return args
}

func TestDispatchUnknownCommand(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	got := wire(t, d.Dispatch(cmd("frobnicate", "x")))
	if got[0] != '-' {
		t.Fatalf("unknown command reply = %q, want an error frame", got)
	}
}

func TestDispatchPingDefault(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	if got := wire(t, d.Dispatch(cmd("ping"))); got != "+PONG\r\n" {
		t.Fatalf("got %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("PING", "hello"))); got != "+hello\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestDispatchSetGetTTL(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)

	if got := wire(t, d.Dispatch(cmd("set", "foo", "bar"))); got != "+OK\r\n" {
		t.Fatalf("SET = %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("get", "foo"))); got != "$3\r\nbar\r\n" {
		t.Fatalf("GET = %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("ttl", "foo"))); got != ":-1\r\n" {
		t.Fatalf("TTL = %q", got)
	}
}

func TestDispatchSetExAndExpiry(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)

	d.Dispatch(cmd("set", "foo", "bar", "EX", "10"))
	got := wire(t, d.Dispatch(cmd("ttl", "foo")))
	if got != ":9\r\n" && got != ":10\r\n" {
		t.Fatalf("TTL after SET EX 10 = %q", got)
	}

	now = 11
	if got := wire(t, d.Dispatch(cmd("get", "foo"))); got != "$-1\r\n" {
		t.Fatalf("GET after expiry = %q", got)
	}
}

func TestDispatchSetConflictingFlags(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	got := wire(t, d.Dispatch(cmd("set", "k", "v", "EX", "10", "PX", "10")))
	if got[0] != '-' {
		t.Fatalf("EX+PX should be a syntax error, got %q", got)
	}
	got = wire(t, d.Dispatch(cmd("set", "k", "v", "NX", "XX")))
	if got[0] != '-' {
		t.Fatalf("NX+XX should be a syntax error, got %q", got)
	}
}

func TestDispatchSetNX(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	if got := wire(t, d.Dispatch(cmd("set", "k", "v1", "NX"))); got != "+OK\r\n" {
		t.Fatalf("first NX set = %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("set", "k", "v2", "NX"))); got != "$-1\r\n" {
		t.Fatalf("second NX set = %q, want nil", got)
	}
}

func TestDispatchGetWrongType(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	d.Dispatch(cmd("zadd", "z", "1", "a"))
	got := wire(t, d.Dispatch(cmd("get", "z")))
	if got[0] != '-' {
		t.Fatalf("GET on a zset key should error, got %q", got)
	}
}

func TestDispatchZAddRangeAndRank(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)

	if got := wire(t, d.Dispatch(cmd("zadd", "z", "1", "a", "2", "b", "3", "c"))); got != ":3\r\n" {
		t.Fatalf("ZADD = %q", got)
	}

	got := wire(t, d.Dispatch(cmd("zrange", "z", "0", "-1")))
	want := "*3\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n"
	if got != want {
		t.Fatalf("ZRANGE = %q, want %q", got, want)
	}

	got = wire(t, d.Dispatch(cmd("zrange", "z", "0", "-1", "WITHSCORES")))
	want = "*6\r\n$1\r\na\r\n$3\r\n1.0\r\n$1\r\nb\r\n$3\r\n2.0\r\n$1\r\nc\r\n$3\r\n3.0\r\n"
	if got != want {
		t.Fatalf("ZRANGE WITHSCORES = %q, want %q", got, want)
	}

	got = wire(t, d.Dispatch(cmd("zrevrange", "z", "0", "1")))
	want = "*2\r\n$1\r\nc\r\n$1\r\nb\r\n"
	if got != want {
		t.Fatalf("ZREVRANGE = %q, want %q", got, want)
	}

	if got := wire(t, d.Dispatch(cmd("zrank", "z", "b"))); got != ":1\r\n" {
		t.Fatalf("ZRANK b = %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("zrank", "z", "nope"))); got != "$-1\r\n" {
		t.Fatalf("ZRANK on absent member = %q", got)
	}
}

func TestDispatchZAddIncrAndCH(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	d.Dispatch(cmd("zadd", "z", "1", "a", "2", "b", "3", "c"))

	got := wire(t, d.Dispatch(cmd("zadd", "z", "CH", "2", "a")))
	if got != ":1\r\n" {
		t.Fatalf("ZADD CH = %q, want 1 changed", got)
	}

	got = wire(t, d.Dispatch(cmd("zadd", "z", "INCR", "5", "a")))
	if got != "$3\r\n7.0\r\n" {
		t.Fatalf("ZADD INCR = %q, want bulk 7.0", got)
	}
}

func TestDispatchZAddSyntaxErrors(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	if got := wire(t, d.Dispatch(cmd("zadd", "z", "NX", "XX", "1", "a"))); got[0] != '-' {
		t.Fatalf("NX+XX should error, got %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("zadd", "z", "1", "a", "2"))); got[0] != '-' {
		t.Fatalf("odd score/member tail should error, got %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("zadd", "z", "INCR", "1", "a", "2", "b"))); got[0] != '-' {
		t.Fatalf("INCR with more than one pair should error, got %q", got)
	}
}

func TestDispatchExpireAndReplayWithoutLog(t *testing.T) {
	now := 0.0
	d := newTestDispatcher(&now)
	if got := wire(t, d.Dispatch(cmd("expire", "missing", "10"))); got != ":0\r\n" {
		t.Fatalf("EXPIRE on missing key = %q", got)
	}
	d.Dispatch(cmd("set", "k", "v"))
	if got := wire(t, d.Dispatch(cmd("expire", "k", "10"))); got != ":1\r\n" {
		t.Fatalf("EXPIRE on present key = %q", got)
	}
	if got := wire(t, d.Dispatch(cmd("replay"))); got != ":0\r\n" {
		t.Fatalf("REPLAY with no log wired = %q, want :0", got)
	}
}

type fakeLog struct {
	appended [][]byte
	replayed float64
	called   bool
}

func (f *fakeLog) Append(command string, args [][]byte) {
	f.appended = append(f.appended, []byte(command))
}

func (f *fakeLog) Replay(after float64) (int, error) {
	f.called = true
	f.replayed = after
	return 5, nil
}

func TestDispatchLogIntegration(t *testing.T) {
	now := 0.0
	eng := engine.NewWithClock(func() float64 { return now }, rand.New(rand.NewSource(1)))
	log := &fakeLog{}
	d := New(eng, log)

	d.Dispatch(cmd("set", "k", "v"))
	d.Dispatch(cmd("zadd", "z", "1", "a"))
	if len(log.appended) != 2 {
		t.Fatalf("expected 2 logged commands, got %d", len(log.appended))
	}

	got := wire(t, d.Dispatch(cmd("replay", "3.5")))
	if got != ":5\r\n" {
		t.Fatalf("REPLAY = %q, want :5", got)
	}
	if !log.called || log.replayed != 3.5 {
		t.Fatalf("Replay called with %v, want 3.5", log.replayed)
	}
}
