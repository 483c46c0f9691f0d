package resp

import (
	"bufio"
	"strconv"
	"strings"
)

// Reply is the tagged variant every dispatched command produces; it
// mirrors the wire-form table in spec.md §4.D exactly so that
// internal/dispatch never has to think about byte layout.
type Reply struct {
	kind replyKind

	str   string
	ok    bool
	n     int64
	bulk  []byte
	items []Reply
	err   string
	isNil bool
}

type replyKind int

const (
	kindSimple replyKind = iota
	kindOK
	kindInt
	kindBulk
	kindNil
	kindArray
	kindError
)

// Simple wraps a RESP simple string ("+s\r\n").
func Simple(s string) Reply { return Reply{kind: kindSimple, str: s} }

// OK is the canonical "+OK\r\n" reply.
func OK() Reply { return Reply{kind: kindOK} }

// Int wraps a RESP integer (":n\r\n").
func Int(n int64) Reply { return Reply{kind: kindInt, n: n} }

// Bulk wraps a byte string ("$<len>\r\n<b>\r\n"). A nil slice is
// distinct from an empty one only in that callers should prefer Nil()
// for an absent value.
func Bulk(b []byte) Reply { return Reply{kind: kindBulk, bulk: b} }

// BulkString is Bulk for a Go string.
func BulkString(s string) Reply { return Reply{kind: kindBulk, bulk: []byte(s)} }

// Float formats f as a decimal string and wraps it as a bulk string,
// per spec.md §4.D: "Floats returned to the wire are formatted as
// decimal strings and serialized as byte strings." As with Python's
// str(float) (original_source/proto/proto_redis.py's str(item[1])),
// integral values keep a trailing ".0" (so ZRANGE/ZADD INCR scores
// read "1.0", "7.0", not "1", "7"). Unlike Python, magnitudes of 1e6
// and above use exponent form ("1e+06", not "1000000.0").
func Float(f float64) Reply {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return BulkString(s)
}

// Nil is the RESP null bulk string ("$-1\r\n"), used for absent keys,
// members, and skipped INCR updates.
func Nil() Reply { return Reply{kind: kindNil} }

// Array wraps a list of replies, serialized recursively.
func Array(items []Reply) Reply { return Reply{kind: kindArray, items: items} }

// Err wraps a RESP error ("-<message>\r\n"). message should not
// contain CR or LF.
func Err(message string) Reply { return Reply{kind: kindError, err: message} }

// IsError reports whether r is an error reply.
func (r Reply) IsError() bool { return r.kind == kindError }

// Write serializes r to w per spec.md §4.D's wire-form table.
func Write(w *bufio.Writer, r Reply) error {
	switch r.kind {
	case kindSimple:
		if _, err := w.WriteString("+" + r.str + "\r\n"); err != nil {
			return err
		}
	case kindOK:
		if _, err := w.WriteString("+OK\r\n"); err != nil {
			return err
		}
	case kindInt:
		if _, err := w.WriteString(":" + strconv.FormatInt(r.n, 10) + "\r\n"); err != nil {
			return err
		}
	case kindBulk:
		if _, err := w.WriteString("$" + strconv.Itoa(len(r.bulk)) + "\r\n"); err != nil {
			return err
		}
		if _, err := w.Write(r.bulk); err != nil {
			return err
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return err
		}
	case kindNil:
		if _, err := w.WriteString("$-1\r\n"); err != nil {
			return err
		}
	case kindArray:
		if _, err := w.WriteString("*" + strconv.Itoa(len(r.items)) + "\r\n"); err != nil {
			return err
		}
		for _, item := range r.items {
			if err := Write(w, item); err != nil {
				return err
			}
		}
	case kindError:
		if _, err := w.WriteString("-" + r.err + "\r\n"); err != nil {
			return err
		}
	}
	return nil
}
