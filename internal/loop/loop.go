package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop runs every posted callback on a single goroutine, in posting order.
// Components that share a Loop never need their own locks for loop-owned state.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New constructs an idle Loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks and reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to finish. It must not be called from the loop itself.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Timer is a one-shot or repeating callback delivered on the loop.
type Timer struct {
	stopped atomic.Bool
	t       *time.Timer
	quit    chan struct{}
	once    sync.Once
}

// Stop cancels the timer. It is idempotent and safe on a nil Timer.
// Called from the loop, it guarantees the callback will not run again.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.once.Do(func() {
		if t.t != nil {
			t.t.Stop()
		}
		if t.quit != nil {
			close(t.quit)
		}
	})
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped.Load() {
				return
			}
			tm.stopped.Store(true)
			fn()
		})
	})
	return tm
}

// Every runs fn on the loop each d until stopped.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	tm := &Timer{quit: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-tm.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Post(func() {
					if tm.stopped.Load() {
						return
					}
					fn()
				})
			}
		}
	}()
	return tm
}
