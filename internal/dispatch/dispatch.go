// Package dispatch maps RESP command arrays onto internal/engine calls
// and converts engine results back into internal/resp replies. It owns
// the static command table and all argument parsing — the engine
// itself only ever sees already-validated, already-typed arguments.
package dispatch

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/rkvlabs/rkv/internal/engine"
	"github.com/rkvlabs/rkv/internal/resp"
)

// handlerFunc executes one command's already-lowercased verb against
// eng, given its remaining arguments.
type handlerFunc func(d *Dispatcher, args [][]byte) resp.Reply

// table is the static verb -> handler map spec.md §4.C requires.
var table = map[string]handlerFunc{
	"ping":      execPing,
	"set":       execSet,
	"get":       execGet,
	"expire":    execExpire,
	"ttl":       execTTL,
	"zadd":      execZAdd,
	"zrange":    execZRange,
	"zrevrange": execZRevRange,
	"zrank":     execZRank,
	"replay":    execReplay,
}

// Log is the subset of internal/replaylog's writer that dispatch
// needs: appending the few commands spec.md §6 says are recorded, and
// replaying the log on REPLAY. A nil Log disables both — useful for
// tests that exercise the engine without a log file.
type Log interface {
	Append(command string, args [][]byte)
	Replay(after float64) (int, error)
}

// Dispatcher binds a command table to one Engine and an optional
// append log.
type Dispatcher struct {
	Engine *engine.Engine
	Log    Log
}

// New returns a Dispatcher over eng. log may be nil.
func New(eng *engine.Engine, log Log) *Dispatcher {
	return &Dispatcher{Engine: eng, Log: log}
}

// Dispatch executes one already-framed command (the RESP array
// elements, command name first) and returns its reply. Dispatch never
// panics on malformed input; every failure mode becomes an error
// reply, per spec.md §7.
func (d *Dispatcher) Dispatch(args [][]byte) resp.Reply {
	if len(args) == 0 {
		return resp.Err("ERR empty command")
	}
	name := strings.ToLower(string(args[0]))
	handler, ok := table[name]
	if !ok {
		return resp.Err("ERR unknown command '" + name + "'")
	}
	return handler(d, args[1:])
}

func logAppend(d *Dispatcher, command string, args [][]byte) {
	if d.Log != nil {
		d.Log.Append(command, args)
	}
}

func execPing(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) > 1 {
		return resp.Err("ERR wrong number of arguments for 'ping' command")
	}
	message := "PONG"
	if len(args) == 1 {
		message = string(args[0])
	}
	return resp.Simple(d.Engine.Ping(message))
}

func execGet(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("ERR wrong number of arguments for 'get' command")
	}
	val, err := d.Engine.Get(string(args[0]))
	if err != nil {
		return resp.Err(err.Error())
	}
	if val == nil {
		return resp.Nil()
	}
	return resp.Bulk(val)
}

// parseSetOptions walks SET's flag tail in the order the source
// walks it: NX/XX are bare flags, EX/PX each consume one following
// argument. Conflicting EX+PX or NX+XX are syntax errors.
func parseSetOptions(args [][]byte) (engine.SetOptions, error) {
	var opts engine.SetOptions
	var haveEX, havePX bool

	i := 0
	for i < len(args) {
		switch strings.ToLower(string(args[i])) {
		case "nx":
			opts.NX = true
			i++
		case "xx":
			opts.XX = true
			i++
		case "ex":
			if i+1 >= len(args) {
				return opts, errSyntax
			}
			secs, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return opts, errValue
			}
			if secs <= 0 {
				return opts, errValue
			}
			opts.HasTTL = true
			opts.TTLSeconds = float64(secs)
			haveEX = true
			i += 2
		case "px":
			if i+1 >= len(args) {
				return opts, errSyntax
			}
			millis, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return opts, errValue
			}
			if millis <= 0 {
				return opts, errValue
			}
			opts.HasTTL = true
			opts.TTLSeconds = float64(millis) / 1000.0
			havePX = true
			i += 2
		default:
			return opts, errSyntax
		}
	}

	if opts.NX && opts.XX {
		return opts, errSyntax
	}
	if haveEX && havePX {
		return opts, errSyntax
	}
	return opts, nil
}

var (
	errSyntax = errors.New("ERR syntax error")
	errValue  = errors.New("ERR value is not an integer or out of range")
)

func execSet(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) < 2 {
		return resp.Err("ERR wrong number of arguments for 'set' command")
	}
	key, val := string(args[0]), args[1]
	opts, err := parseSetOptions(args[2:])
	if err != nil {
		return resp.Err(err.Error())
	}
	ok := d.Engine.Set(key, val, opts)
	if !ok {
		return resp.Nil()
	}
	logAppend(d, "set", args)
	return resp.OK()
}

func execExpire(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) != 2 {
		return resp.Err("ERR wrong number of arguments for 'expire' command")
	}
	seconds, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Err("ERR value is not an integer or out of range")
	}
	n := d.Engine.Expire(string(args[0]), seconds)
	if n == 1 {
		logAppend(d, "expire", args)
	}
	return resp.Int(int64(n))
}

func execTTL(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.Err("ERR wrong number of arguments for 'ttl' command")
	}
	return resp.Int(int64(d.Engine.TTL(string(args[0]))))
}

// parseZAddOptions walks ZADD's flag tail the same way SET's is
// walked: NX/XX/CH/INCR are bare flags that must all appear before the
// first score/member pair.
func parseZAddOptions(args [][]byte) (engine.ZAddOptions, [][]byte, error) {
	var opts engine.ZAddOptions
	i := 0
	for i < len(args) {
		switch strings.ToLower(string(args[i])) {
		case "nx":
			opts.NX = true
			i++
		case "xx":
			opts.XX = true
			i++
		case "ch":
			opts.CH = true
			i++
		case "incr":
			opts.INCR = true
			i++
		default:
			goto doneFlags
		}
	}
doneFlags:
	if opts.NX && opts.XX {
		return opts, nil, errSyntax
	}
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return opts, nil, errSyntax
	}
	if opts.INCR && len(rest) != 2 {
		return opts, nil, errSyntax
	}
	return opts, rest, nil
}

func parseScoreMembers(rest [][]byte) ([]engine.ScoreMember, error) {
	pairs := make([]engine.ScoreMember, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, err := strconv.ParseFloat(string(rest[j]), 64)
		if err != nil || math.IsNaN(score) {
			return nil, errValue
		}
		pairs = append(pairs, engine.ScoreMember{Score: score, Member: string(rest[j+1])})
	}
	return pairs, nil
}

func execZAdd(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) < 1 {
		return resp.Err("ERR wrong number of arguments for 'zadd' command")
	}
	key := string(args[0])
	opts, rest, err := parseZAddOptions(args[1:])
	if err != nil {
		return resp.Err(err.Error())
	}
	pairs, err := parseScoreMembers(rest)
	if err != nil {
		return resp.Err(err.Error())
	}
	res, err := d.Engine.ZAdd(key, opts, pairs)
	if err != nil {
		return resp.Err(err.Error())
	}
	logAppend(d, "zadd", args)
	switch {
	case res.Nil:
		return resp.Nil()
	case res.IsFloat:
		return resp.Float(res.FloatValue)
	default:
		return resp.Int(int64(res.IntValue))
	}
}

func parseRangeArgs(args [][]byte) (start, stop int, withScores bool, err error) {
	if len(args) < 3 {
		return 0, 0, false, errSyntax
	}
	start64, e1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop64, e2 := strconv.ParseInt(string(args[2]), 10, 64)
	if e1 != nil || e2 != nil {
		return 0, 0, false, errValue
	}
	if len(args) == 4 {
		if !strings.EqualFold(string(args[3]), "withscores") {
			return 0, 0, false, errSyntax
		}
		withScores = true
	} else if len(args) > 4 {
		return 0, 0, false, errSyntax
	}
	return int(start64), int(stop64), withScores, nil
}

func execRange(d *Dispatcher, args [][]byte, reverse bool) resp.Reply {
	if len(args) < 1 {
		return resp.Err("ERR wrong number of arguments for 'zrange' command")
	}
	start, stop, withScores, err := parseRangeArgs(args)
	if err != nil {
		return resp.Err(err.Error())
	}
	pairs, err := d.Engine.ZRange(string(args[0]), start, stop, reverse)
	if err != nil {
		return resp.Err(err.Error())
	}
	if pairs == nil {
		return resp.Array(nil)
	}
	items := make([]resp.Reply, 0, len(pairs)*2)
	for _, p := range pairs {
		items = append(items, resp.BulkString(p.Member))
		if withScores {
			items = append(items, resp.Float(p.Score))
		}
	}
	return resp.Array(items)
}

func execZRange(d *Dispatcher, args [][]byte) resp.Reply    { return execRange(d, args, false) }
func execZRevRange(d *Dispatcher, args [][]byte) resp.Reply { return execRange(d, args, true) }

func execZRank(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) != 2 {
		return resp.Err("ERR wrong number of arguments for 'zrank' command")
	}
	rank, ok, err := d.Engine.ZRank(string(args[0]), string(args[1]))
	if err != nil {
		return resp.Err(err.Error())
	}
	if !ok {
		return resp.Nil()
	}
	return resp.Int(int64(rank))
}

func execReplay(d *Dispatcher, args [][]byte) resp.Reply {
	if len(args) > 1 {
		return resp.Err("ERR wrong number of arguments for 'replay' command")
	}
	if d.Log == nil {
		return resp.Int(0)
	}
	after := 0.0
	if len(args) == 1 {
		v, err := strconv.ParseFloat(string(args[0]), 64)
		if err != nil {
			return resp.Err("ERR value is not a valid float")
		}
		after = v
	}
	n, err := d.Log.Replay(after)
	if err != nil {
		return resp.Err("ERR replay failed: " + err.Error())
	}
	return resp.Int(int64(n))
}
