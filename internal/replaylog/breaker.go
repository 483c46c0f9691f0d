package replaylog

import "time"

// breakerBuckets is how many one-second buckets the error-rate window
// holds. 5 one-second buckets, as in the bucketed counters this is
// adapted from, is plenty for deciding whether the append log is
// currently failing.
const breakerBuckets = 5

type counter struct {
	success int
	failure int
}

type summary struct {
	total  int
	errors int
	rate   float64
}

// metric is a bucketed error-rate counter: one bucket per wall-clock
// second, wrapping around breakerBuckets seconds. Reading the bucket
// for the current second and clearing it on first touch keeps the
// window moving without a background goroutine.
type metric struct {
	counters [breakerBuckets]counter
	last     *counter
	now      func() time.Time
}

func newMetric(now func() time.Time) *metric {
	return &metric{now: now}
}

func (m *metric) bucket() int {
	return int(m.now().Unix()) % len(m.counters)
}

func (m *metric) clear(cur *counter) {
	if m.last == nil {
		m.last = cur
	} else if cur != m.last {
		*cur = counter{}
		m.last = cur
	}
}

func (m *metric) Success() {
	cur := &m.counters[m.bucket()]
	m.clear(cur)
	cur.success++
}

func (m *metric) Failure() {
	cur := &m.counters[m.bucket()]
	m.clear(cur)
	cur.failure++
}

func (m metric) Summary() summary {
	var sum summary
	for _, c := range m.counters {
		sum.total += c.success + c.failure
		sum.errors += c.failure
	}
	if sum.total > 0 {
		sum.rate = float64(sum.errors) / float64(sum.total)
	}
	return sum
}

// breaker trips once the append log's recent write error rate crosses
// threshold, so a failing disk doesn't turn every command into a
// blocking write attempt. It stays open (rejecting) until the error
// rate recovers below threshold.
type breaker struct {
	threshold float64
	m         *metric
	open      bool
}

func newBreaker(threshold float64) *breaker {
	return &breaker{threshold: threshold, m: newMetric(time.Now)}
}

// Allow reports whether a write should be attempted. While open, each
// call moves the window to the current second's bucket and re-checks
// the error rate, so the breaker closes once the failures age out.
func (b *breaker) Allow() bool {
	if b.open {
		b.m.clear(&b.m.counters[b.m.bucket()])
		b.open = b.m.Summary().rate >= b.threshold
	}
	return !b.open
}

func (b *breaker) Success() {
	b.m.Success()
	b.open = b.m.Summary().rate >= b.threshold
}

func (b *breaker) Failure() {
	b.m.Failure()
	b.open = b.m.Summary().rate >= b.threshold
}
