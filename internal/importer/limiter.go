package importer

// limiter.go provides the two concurrency controls around imports:
//
//   - Limiter caps how many files are processed in parallel (semaphore
//     with a bounded wait, rejecting with ErrTooManyImports on timeout).
//   - orgLocks serializes the commit step per organization, so two
//     simultaneous imports cannot both read the customer count and assign
//     colliding customer numbers.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when all import slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultMaxConcurrentImports caps parallel file processing.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Limiter restricts concurrent import processing using a semaphore.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter allowing at most maxConcurrent simultaneous
// imports; Acquire calls that wait longer than maxWait fail.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire blocks until a slot is available or the wait timeout expires.
// The caller must Release exactly once per successful Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// ActiveCount returns the number of imports currently processing.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active imports complete or ctx is
// cancelled. Used during graceful shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// orgLocks hands out one mutex per organization id. Locks are never
// removed; the key space is bounded by the number of organizations.
type orgLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOrgLocks() *orgLocks {
	return &orgLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the organization's mutex and returns its unlock function.
func (o *orgLocks) Lock(orgID string) func() {
	o.mu.Lock()
	m, ok := o.locks[orgID]
	if !ok {
		m = &sync.Mutex{}
		o.locks[orgID] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}
