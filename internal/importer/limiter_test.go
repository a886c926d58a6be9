package importer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(2, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if got := l.ActiveCount(); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}

	l.Release()
	if got := l.ActiveCount(); got != 1 {
		t.Errorf("active after release = %d, want 1", got)
	}
	l.Release()
}

func TestLimiterRejectsWhenFull(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrTooManyImports) {
		t.Errorf("err = %v, want ErrTooManyImports", err)
	}
}

func TestLimiterHonorsContextCancellation(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLimiterWaitForDrain(t *testing.T) {
	l := NewLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("drain: %v", err)
	}
}

func TestOrgLocksSerializePerKey(t *testing.T) {
	locks := newOrgLocks()

	unlock := locks.Lock("org-1")

	// A different organization is not blocked.
	done := make(chan struct{})
	go func() {
		u := locks.Lock("org-2")
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different organization should not block")
	}

	// The same organization waits until release.
	acquired := make(chan struct{})
	go func() {
		u := locks.Lock("org-1")
		u()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on the same organization acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never released to the waiter")
	}
}
