// Package zset implements a Redis-style sorted set: a collection of
// unique byte-string members, each carrying a floating-point score,
// kept in two mutually consistent indices so that membership, score
// lookup, and score-ordered ranging are all efficient.
package zset

import (
	"sync"

	"github.com/google/btree"
)

// entry is the ordered-index item: a (score, member) pair. Ordering is
// primarily by score, ties broken by member bytes, ascending.
type entry struct {
	score  float64
	member string
}

// Less satisfies btree.Item.
func (e *entry) Less(than btree.Item) bool {
	other := than.(*entry)
	if e.score != other.score {
		return e.score < other.score
	}
	return e.member < other.member
}

var _ btree.Item = (*entry)(nil)

// ZSet is a dual-indexed sorted set. The zero value is not usable; use
// New. A ZSet is safe for concurrent use, though the engine this
// package serves runs single-threaded command dispatch and so never
// contends the lock.
type ZSet struct {
	mu       sync.Mutex
	mem2score map[string]float64
	scored    *btree.BTree
}

// New returns an empty ZSet.
func New() *ZSet {
	return &ZSet{
		mem2score: make(map[string]float64),
		scored:    btree.New(32),
	}
}

// Add inserts or updates member with score. It returns true if the
// member was newly inserted, or if it already existed with a
// different score (the score was changed). It returns false if the
// member already existed with an identical score (no-op).
func (z *ZSet) Add(member string, score float64) bool {
	z.mu.Lock()
	defer z.mu.Unlock()

	prev, existed := z.mem2score[member]
	if existed && prev == score {
		return false
	}
	if existed {
		z.scored.Delete(&entry{score: prev, member: member})
	}
	z.mem2score[member] = score
	z.scored.ReplaceOrInsert(&entry{score: score, member: member})
	return true
}

// Discard removes member from the set. It is a no-op if member is
// absent.
func (z *ZSet) Discard(member string) {
	z.mu.Lock()
	defer z.mu.Unlock()

	score, ok := z.mem2score[member]
	if !ok {
		return
	}
	delete(z.mem2score, member)
	z.scored.Delete(&entry{score: score, member: member})
}

// Contains reports whether member is present.
func (z *ZSet) Contains(member string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	_, ok := z.mem2score[member]
	return ok
}

// ScoreOf returns the member's score and whether it is present.
func (z *ZSet) ScoreOf(member string) (float64, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	score, ok := z.mem2score[member]
	return score, ok
}

// Len returns the number of members.
func (z *ZSet) Len() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.mem2score)
}

// Rank returns the zero-based index of member within the ascending
// score order, and whether member is present. The underlying btree
// isn't order-statistics augmented, so this walks every preceding
// entry; callers on a hot path with very large sets should keep that
// in mind.
func (z *ZSet) Rank(member string) (int, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	score, ok := z.mem2score[member]
	if !ok {
		return 0, false
	}
	rank := 0
	z.scored.AscendLessThan(&entry{score: score, member: member}, func(btree.Item) bool {
		rank++
		return true
	})
	return rank, true
}

// Pair is a (member, score) pair as returned by range iteration.
type Pair struct {
	Member string
	Score  float64
}

// Range returns the half-open window [start, stop) of the ascending
// score-ordered index, or its reverse if reverse is true. Callers are
// expected to have already normalized start/stop via FixRange.
func (z *ZSet) Range(start, stop int, reverse bool) []Pair {
	z.mu.Lock()
	defer z.mu.Unlock()

	if start >= stop {
		return nil
	}

	out := make([]Pair, 0, stop-start)
	i := 0
	z.scored.Ascend(func(item btree.Item) bool {
		if i >= stop {
			return false
		}
		if i >= start {
			e := item.(*entry)
			out = append(out, Pair{Member: e.member, Score: e.score})
		}
		i++
		return true
	})

	if reverse {
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	}
	return out
}

// FixRange normalizes a start/stop index pair against a container of
// the given length, Redis-style: negative indices count from the end
// and are clamped at zero; the result is a half-open [lo, hi) window,
// or an empty window (lo == hi) if the range selects nothing.
func FixRange(start, stop, length int) (lo, hi int) {
	if start < 0 {
		start += length
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += length
		if stop < 0 {
			stop = 0
		}
	}
	if start > stop || start >= length {
		return 0, 0
	}
	if stop > length-1 {
		stop = length - 1
	}
	return start, stop + 1
}
