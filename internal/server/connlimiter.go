package server

import "sync"

// connLimiter bounds how many connections may be in flight at once,
// adapted from the teacher's pool.connectionPool slot-waiting pattern
// (sync.Mutex + sync.Cond) but admitting inbound net.Conns instead of
// pooling outbound redis.Conns: Acquire blocks until a slot is free
// instead of dialing one, and Release just frees a slot rather than
// returning a connection to an available list.
//
// A ceiling of 0 disables the limiter: Acquire always succeeds
// immediately, matching spec.md's default of no configured connection
// cap.
type connLimiter struct {
	mu          *sync.Mutex
	co          *sync.Cond
	max         int
	outstanding int
	closed      bool
}

func newConnLimiter(max int) *connLimiter {
	mu := &sync.Mutex{}
	return &connLimiter{
		mu:  mu,
		co:  sync.NewCond(mu),
		max: max,
	}
}

// Acquire blocks until a connection slot is available, then reserves
// it. It returns false without reserving a slot if the limiter has
// been closed (server shutting down).
func (l *connLimiter) Acquire() bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.outstanding >= l.max && !l.closed {
		l.co.Wait()
	}
	if l.closed {
		return false
	}
	l.outstanding++
	return true
}

// Release frees one connection slot.
func (l *connLimiter) Release() {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	l.outstanding--
	l.co.Signal()
	l.mu.Unlock()
}

// Close wakes every blocked Acquire so shutdown doesn't hang waiting
// on a slot that will never free.
func (l *connLimiter) Close() {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	l.closed = true
	l.co.Broadcast()
	l.mu.Unlock()
}
