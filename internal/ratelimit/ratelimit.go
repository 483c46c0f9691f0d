// Package ratelimit tracks a moving-average event rate and answers how
// many more events can happen right now without exceeding a target rate.
//
// It is used to bound how often the connection server's per-connection
// purge gate actually invokes the engine purger: every connection wants
// to trigger a purge pass every 100ms (spec.md §4.E), but with many
// concurrent connections that would run the purger far more often than
// necessary. The rate police turns "may I purge" into "has purging
// already happened enough this window".
package ratelimit

import "time"

// MaxInt is the largest value Request can return.
const MaxInt = int(^uint(0) >> 1)

// Reporter reports events that just happened.
type Reporter interface {
	Report(n int)
}

// Requester answers how many events may happen right now without the
// moving average exceeding targetRatePerSec. The result is capped at
// twice the per-bucket share of the target rate, to avoid bursts.
type Requester interface {
	Request(targetRatePerSec int) int
}

// RatePolice combines Reporter and Requester. Build one with New or
// NewNop.
type RatePolice interface {
	Reporter
	Requester
}

// New creates a RatePolice whose moving average is computed over
// movingAverageWindow, split into numberOfBuckets equal buckets. ~10
// buckets is plenty for purge-gating purposes.
func New(movingAverageWindow time.Duration, numberOfBuckets int) RatePolice {
	rp := &ratePolice{
		buckets:  make([]int, numberOfBuckets),
		reports:  make(chan int),
		requests: make(chan request),
	}
	rp.currentBucketStartTime = time.Now()
	rp.movingAverageWindow = movingAverageWindow
	rp.bucketDuration = movingAverageWindow / time.Duration(numberOfBuckets)
	go rp.loop()
	return rp
}

// NewNop returns a RatePolice whose Report is a no-op and whose Request
// always grants MaxInt — i.e., unthrottled.
func NewNop() RatePolice {
	return noPolice{}
}

type ratePolice struct {
	buckets                []int
	reports                chan int
	requests               chan request
	currentBucket          int
	currentBucketStartTime time.Time
	movingAverageWindow    time.Duration
	bucketDuration         time.Duration
	bucketSum              int
}

type request struct {
	targetRatePerSec int
	result           chan int
}

func (rp *ratePolice) Report(n int) {
	rp.reports <- n
}

func (rp *ratePolice) Request(targetRatePerSec int) int {
	result := make(chan int)
	rp.requests <- request{targetRatePerSec: targetRatePerSec, result: result}
	return <-result
}

func (rp *ratePolice) loop() {
	for {
		select {
		case n := <-rp.reports:
			rp.updateBuckets()
			rp.buckets[rp.currentBucket] += n
			rp.bucketSum += n
		case req := <-rp.requests:
			rp.updateBuckets()
			max := int(time.Duration(req.targetRatePerSec) * rp.movingAverageWindow / time.Second)
			granted := max - rp.bucketSum
			perBucketCap := 2 * max / len(rp.buckets)
			if granted > perBucketCap {
				granted = perBucketCap
			}
			req.result <- granted
		}
	}
}

func (rp *ratePolice) updateBuckets() {
	now := time.Now()
	shift := int(now.Sub(rp.currentBucketStartTime) / rp.bucketDuration)
	if shift <= 0 {
		return
	}
	rp.currentBucketStartTime = now
	if shift >= len(rp.buckets) {
		rp.bucketSum = 0
		rp.buckets = make([]int, len(rp.buckets))
		return
	}
	for ; shift > 0; shift-- {
		rp.currentBucket++
		if rp.currentBucket >= len(rp.buckets) {
			rp.currentBucket = 0
		}
		rp.bucketSum -= rp.buckets[rp.currentBucket]
		rp.buckets[rp.currentBucket] = 0
	}
}

type noPolice struct{}

func (noPolice) Report(int)        {}
func (noPolice) Request(int) int { return MaxInt }
