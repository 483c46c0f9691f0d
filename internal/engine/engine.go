// Package engine implements the in-memory key space: scalar and
// sorted-set values, TTL bookkeeping, the randomized purger, and the
// command semantics for PING/SET/GET/EXPIRE/TTL/ZADD/ZRANGE/
// ZREVRANGE/ZRANK.
//
// Engine assumes single-threaded, cooperative access, per the
// concurrency model in spec.md §5 and §9: exactly one command runs to
// completion at a time, so the key space and expiry table need no
// lock of their own. The front-end (internal/server) is responsible
// for that serialization guarantee.
package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/rkvlabs/rkv/internal/zset"
)

// Engine holds the key space and expiry table.
type Engine struct {
	keys    map[string]value
	expires map[string]float64 // key -> absolute deadline, monotonic seconds

	clock func() float64
	rng   *rand.Rand
}

// New returns an empty Engine with a real monotonic clock.
func New() *Engine {
	start := time.Now()
	return NewWithClock(func() float64 {
		return time.Since(start).Seconds()
	}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithClock returns an empty Engine with an injectable clock and
// random source, for deterministic tests.
func NewWithClock(clock func() float64, rng *rand.Rand) *Engine {
	return &Engine{
		keys:    make(map[string]value),
		expires: make(map[string]float64),
		clock:   clock,
		rng:     rng,
	}
}

// Now returns the engine's current monotonic-seconds reading. Used by
// the append log (internal/replaylog) to stamp records.
func (e *Engine) Now() float64 {
	return e.clock()
}

func (e *Engine) haveExpired(key string) bool {
	deadline, ok := e.expires[key]
	return ok && deadline != 0 && deadline < e.clock()
}

// expireIfNeeded implements the read-time expiry check every command
// that touches a key must perform first: if the key's TTL has passed,
// both indices are dropped before anything else happens.
func (e *Engine) expireIfNeeded(key string) {
	if e.haveExpired(key) {
		delete(e.keys, key)
		delete(e.expires, key)
	}
}

func (e *Engine) exists(key string) bool {
	e.expireIfNeeded(key)
	_, ok := e.keys[key]
	return ok
}

// Ping returns message unchanged. Dispatch supplies the "PONG"
// default when no argument is given.
func (e *Engine) Ping(message string) string {
	return message
}

// SetOptions captures SET's already-parsed, already-validated
// modifiers (internal/dispatch owns parsing args into this shape).
type SetOptions struct {
	HasTTL     bool
	TTLSeconds float64
	NX, XX     bool
}

// Set stores val under key, subject to NX/XX, and returns whether the
// write took place.
func (e *Engine) Set(key string, val []byte, opts SetOptions) bool {
	exists := e.exists(key)
	if opts.NX && exists {
		return false
	}
	if opts.XX && !exists {
		return false
	}

	delete(e.expires, key)
	if opts.HasTTL {
		e.expires[key] = e.clock() + opts.TTLSeconds
	}
	e.keys[key] = scalarValue(val)
	return true
}

// Get returns the scalar value for key, or (nil, nil) if key is
// absent or expired. Applying Get to a ZSet key is a type error.
func (e *Engine) Get(key string) ([]byte, error) {
	e.expireIfNeeded(key)
	v, ok := e.keys[key]
	if !ok {
		return nil, nil
	}
	if v.isZSet() {
		return nil, ErrWrongType
	}
	return v.scalar, nil
}

// Expire sets key's deadline to now+seconds, returning 1, or 0 if key
// is absent or already expired.
func (e *Engine) Expire(key string, seconds int64) int {
	if !e.exists(key) {
		return 0
	}
	e.expires[key] = e.clock() + float64(seconds)
	return 1
}

// TTL returns -2 if key is absent, -1 if present without a TTL, or
// the floor of the remaining seconds.
func (e *Engine) TTL(key string) int {
	if !e.exists(key) {
		return -2
	}
	deadline, ok := e.expires[key]
	if !ok || deadline == 0 {
		return -1
	}
	return int(math.Floor(deadline - e.clock()))
}

// ScoreMember is one score/member pair passed to ZAdd.
type ScoreMember struct {
	Score  float64
	Member string
}

// ZAddOptions captures ZADD's already-parsed flags.
type ZAddOptions struct {
	NX, XX, CH, INCR bool
}

// ZAddResult is ZADD's polymorphic return value: either an integer
// count (plain or CH) or, under INCR, the new float score — or Nil if
// an INCR update was skipped by NX/XX.
type ZAddResult struct {
	IsFloat    bool
	FloatValue float64
	IntValue   int
	Nil        bool
}

// ZAdd creates key as an empty ZSet if absent, then applies pairs per
// opts. Applying ZAdd to a scalar key is a type error.
func (e *Engine) ZAdd(key string, opts ZAddOptions, pairs []ScoreMember) (ZAddResult, error) {
	e.expireIfNeeded(key)

	v, ok := e.keys[key]
	var z *zset.ZSet
	switch {
	case !ok:
		z = zset.New()
		e.keys[key] = zsetValue(z)
	case !v.isZSet():
		return ZAddResult{}, ErrWrongType
	default:
		z = v.zset
	}

	if opts.INCR {
		pair := pairs[0]
		member := pair.Member
		if (opts.NX && z.Contains(member)) || (opts.XX && !z.Contains(member)) {
			return ZAddResult{Nil: true}, nil
		}
		prev, _ := z.ScoreOf(member)
		newScore := prev + pair.Score
		z.Add(member, newScore)
		return ZAddResult{IsFloat: true, FloatValue: newScore}, nil
	}

	lenBefore := z.Len()
	changed := 0
	for _, p := range pairs {
		if opts.NX && z.Contains(p.Member) {
			continue
		}
		if opts.XX && !z.Contains(p.Member) {
			continue
		}
		if z.Add(p.Member, p.Score) {
			changed++
		}
	}

	if opts.CH {
		return ZAddResult{IntValue: changed}, nil
	}
	return ZAddResult{IntValue: z.Len() - lenBefore}, nil
}

// ZRange returns the score-ordered window [start,stop] (Redis-style,
// inclusive, negative-indexing) of key's ZSet, or its reverse if
// reverse is true. Returns (nil, nil) if key is absent.
func (e *Engine) ZRange(key string, start, stop int, reverse bool) ([]zset.Pair, error) {
	e.expireIfNeeded(key)
	v, ok := e.keys[key]
	if !ok {
		return nil, nil
	}
	if !v.isZSet() {
		return nil, ErrWrongType
	}

	length := v.zset.Len()
	lo, hi := zset.FixRange(start, stop, length)
	if reverse {
		lo, hi = length-hi, length-lo
	}
	return v.zset.Range(lo, hi, reverse), nil
}

// ZRank returns member's zero-based ascending rank within key's ZSet.
// The second return is false if key or member is absent.
func (e *Engine) ZRank(key, member string) (int, bool, error) {
	e.expireIfNeeded(key)
	v, ok := e.keys[key]
	if !ok {
		return 0, false, nil
	}
	if !v.isZSet() {
		return 0, false, ErrWrongType
	}
	rank, ok := v.zset.Rank(member)
	return rank, ok, nil
}

// purgeSampleSize and purgeContinueNumerator/Denominator implement
// spec.md §4.B's purger contract: sample up to this many keys per
// pass, and keep passing while the removal ratio exceeds
// purgeContinueNumerator/purgeContinueDenominator (25%).
const (
	purgeSampleSize          = 20
	purgeContinueNumerator   = 1
	purgeContinueDenominator = 4
)

// Purge runs the randomized expiration sampler to completion: it
// samples up to 20 keys from the expiry table, removes the expired
// ones, and repeats as long as the keys removed in a round exceed 25%
// of the expiry table's size at the start of that round. It returns the total keys sampled and removed across every
// pass, for instrumentation.
func (e *Engine) Purge() (sampled, removed int) {
	for {
		n := len(e.expires)
		if n == 0 {
			return sampled, removed
		}

		size := purgeSampleSize
		if size > n {
			size = n
		}
		keys := e.sampleExpiryKeys(size)
		sampled += len(keys)

		cleared := 0
		now := e.clock()
		for _, k := range keys {
			deadline, ok := e.expires[k]
			if !ok {
				continue
			}
			if deadline != 0 && deadline < now {
				delete(e.keys, k)
				delete(e.expires, k)
				cleared++
			}
		}
		removed += cleared

		if purgeContinueDenominator*cleared <= purgeContinueNumerator*n {
			return sampled, removed
		}
	}
}

// sampleExpiryKeys returns n distinct keys drawn uniformly at random
// from the expiry table via a partial Fisher-Yates shuffle, so each
// pick uses a fresh random draw rather than relying solely on map
// iteration order.
func (e *Engine) sampleExpiryKeys(n int) []string {
	all := make([]string, 0, len(e.expires))
	for k := range e.expires {
		all = append(all, k)
	}
	if n >= len(all) {
		return all
	}
	for i := 0; i < n; i++ {
		j := i + e.rng.Intn(len(all)-i)
		all[i], all[j] = all[j], all[i]
	}
	return all[:n]
}
