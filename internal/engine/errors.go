package engine

// Kind classifies an engine error the way spec.md §7 enumerates them.
// The RESP front-end doesn't need the distinction to reply (every kind
// serializes to the same `-<message>\r\n` frame), but instrumentation
// and tests benefit from being able to tell them apart.
type Kind int

const (
	// KindSyntax covers malformed option lists, unknown flags, bad
	// arity, and conflicting flags.
	KindSyntax Kind = iota
	// KindValue covers failed numeric decode and out-of-range values.
	KindValue
	// KindType covers operations applied to the wrong value variant.
	KindType
	// KindUnknownCommand covers dispatcher lookup misses.
	KindUnknownCommand
)

// Error is the error type returned by every engine operation that can
// fail. Its Error() string is exactly what the RESP front-end sends
// back to the client.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func syntaxErrorf(msg string) error { return &Error{Kind: KindSyntax, Msg: msg} }
func valueErrorf(msg string) error  { return &Error{Kind: KindValue, Msg: msg} }
func typeErrorf(msg string) error   { return &Error{Kind: KindType, Msg: msg} }

// ErrWrongType is returned whenever a command is applied to a value of
// the wrong variant (e.g. ZADD on a scalar key, or GET on a ZSet key).
var ErrWrongType = typeErrorf("WRONGTYPE Operation against a key holding the wrong kind of value")
