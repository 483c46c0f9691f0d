// Package replaylog implements the best-effort append-only command log
// described in spec.md §6: one record per accepted set/expire/zadd,
// written as `<timestamp>,<command>,<arg1>,<arg2>,…` with each argument
// base64-encoded so that arbitrary byte strings survive the
// comma-delimited format, and a Replay that re-issues records whose
// declared TTL (for set) hasn't already elapsed.
//
// The source's writer stamps records with its own reader function
// instead of a decimal timestamp — spec.md §9 calls this out as a known
// bug implementations must not reproduce. Append here always writes
// strconv.FormatFloat(time, ...), never a function value.
package replaylog

import (
	"bufio"
	"encoding/base64"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rkvlabs/rkv/internal/engine"
	"github.com/rkvlabs/rkv/internal/instrumentation"
	"github.com/tsenart/tb"
)

// Writer appends command records to a file and can replay them into an
// Engine. Writes are best-effort: per spec.md §7, I/O errors are
// swallowed (reported to instrumentation, never surfaced to the
// client). A tripped breaker or an empty rate-limit bucket also counts
// as "don't write this one", not an error.
type Writer struct {
	path   string
	clock  func() float64
	eng    *engine.Engine
	instr  instrumentation.Instrumentation
	brk    *breaker
	bucket *tb.Bucket
}

// New returns a Writer appending to path and replaying into eng.
// ratePerSecond caps how many records per second are written; 0
// disables the limiter (every record is attempted, subject only to the
// breaker).
func New(path string, eng *engine.Engine, ratePerSecond int64, instr instrumentation.Instrumentation) *Writer {
	w := &Writer{
		path:  path,
		clock: eng.Now,
		eng:   eng,
		instr: instr,
		brk:   newBreaker(0.5),
	}
	if ratePerSecond > 0 {
		w.bucket = tb.NewBucket(ratePerSecond, 0)
	}
	return w
}

// Replay satisfies internal/dispatch's Log interface, scanning records
// with timestamp >= after and re-issuing each onto the Writer's Engine.
func (w *Writer) Replay(after float64) (int, error) {
	return Replay(w.path, after, w.eng, w.instr)
}

// Append writes one record for command with its raw argument list. It
// never blocks on a full disk or returns an error: failures are
// swallowed and reported via instrumentation.LogWriteFailure.
func (w *Writer) Append(command string, args [][]byte) {
	if !w.brk.Allow() {
		return
	}
	if w.bucket != nil && w.bucket.Take(1) == 0 {
		return
	}

	fields := make([]string, 0, len(args)+2)
	fields = append(fields, strconv.FormatFloat(w.clock(), 'f', -1, 64))
	fields = append(fields, command)
	for _, a := range args {
		fields = append(fields, base64.RawURLEncoding.EncodeToString(a))
	}
	line := strings.Join(fields, ",") + "\n"

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		w.brk.Failure()
		w.instr.LogWriteFailure()
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		w.brk.Failure()
		w.instr.LogWriteFailure()
		return
	}
	w.brk.Success()
}

// Replay scans records with timestamp >= after and re-issues each onto
// eng, skipping set records whose declared EX/PX duration has already
// elapsed relative to the record's own timestamp. It returns how many
// records were replayed.
func Replay(path string, after float64, eng *engine.Engine, instr instrumentation.Instrumentation) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	replayed := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		tm, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		if tm < after {
			continue
		}
		command := fields[1]
		args := make([][]byte, 0, len(fields)-2)
		ok := true
		for _, encoded := range fields[2:] {
			decoded, err := base64.RawURLEncoding.DecodeString(encoded)
			if err != nil {
				ok = false
				break
			}
			args = append(args, decoded)
		}
		if !ok {
			continue
		}
		if replayRecord(eng, tm, command, args) {
			replayed++
		}
	}
	if err := scanner.Err(); err != nil {
		return replayed, err
	}
	instr.ReplayedCommands(replayed)
	return replayed, nil
}

// replayRecord re-issues a single decoded record against eng, applying
// the set/expire skip-rules spec.md §6 describes. now() inside eng is
// used both for the skip check and for computing fresh deadlines,
// since replayed TTLs are relative to when they're applied, not when
// they were recorded.
func replayRecord(eng *engine.Engine, recordedAt float64, command string, args [][]byte) bool {
	switch strings.ToLower(command) {
	case "set":
		return replaySet(eng, recordedAt, args)
	case "expire":
		return replayExpire(eng, recordedAt, args)
	case "zadd":
		return replayZAdd(eng, args)
	default:
		return false
	}
}

func replaySet(eng *engine.Engine, recordedAt float64, args [][]byte) bool {
	if len(args) < 2 {
		return false
	}
	key, val := string(args[0]), args[1]

	var opts engine.SetOptions
	elapsed := eng.Now() - recordedAt
	for i := 2; i < len(args); i++ {
		switch strings.ToLower(string(args[i])) {
		case "nx":
			opts.NX = true
		case "xx":
			opts.XX = true
		case "ex":
			if i+1 >= len(args) {
				return false
			}
			secs, err := strconv.ParseFloat(string(args[i+1]), 64)
			if err != nil {
				return false
			}
			if elapsed >= secs {
				return false // declared TTL already elapsed by replay time
			}
			opts.HasTTL = true
			opts.TTLSeconds = secs - elapsed
			i++
		case "px":
			if i+1 >= len(args) {
				return false
			}
			millis, err := strconv.ParseFloat(string(args[i+1]), 64)
			if err != nil {
				return false
			}
			secs := millis / 1000.0
			if elapsed >= secs {
				return false
			}
			opts.HasTTL = true
			opts.TTLSeconds = secs - elapsed
			i++
		}
	}

	eng.Set(key, val, opts)
	return true
}

func replayExpire(eng *engine.Engine, recordedAt float64, args [][]byte) bool {
	if len(args) != 2 {
		return false
	}
	secs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return false
	}
	elapsed := eng.Now() - recordedAt
	remaining := float64(secs) - elapsed
	if remaining <= 0 {
		return false
	}
	eng.Expire(string(args[0]), int64(remaining))
	return true
}

func replayZAdd(eng *engine.Engine, args [][]byte) bool {
	if len(args) < 1 {
		return false
	}
	key := string(args[0])
	var opts engine.ZAddOptions
	i := 1
loop:
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
			break loop
		}
	}
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return false
	}
	pairs := make([]engine.ScoreMember, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, err := strconv.ParseFloat(string(rest[j]), 64)
		if err != nil || math.IsNaN(score) {
			return false
		}
		pairs = append(pairs, engine.ScoreMember{Score: score, Member: string(rest[j+1])})
	}
	if _, err := eng.ZAdd(key, opts, pairs); err != nil {
		return false
	}
	return true
}
