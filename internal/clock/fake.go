package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Clock whose time only moves on Advance. Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order.
// Do not call Advance from within a callback.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	interval time.Duration // non-zero for tickers
	ch       chan time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	f := &Fake{now: t}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the clock passes now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &waiter{deadline: f.now.Add(d), fn: fn}
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()

	return &Timer{
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			active := !w.stopped && !w.fired
			w.stopped, w.fired = false, false
			w.deadline = f.now.Add(d)
			for _, existing := range f.waiters {
				if existing == w {
					return active
				}
			}
			f.waiters = append(f.waiters, w)
			f.changed.Broadcast()
			return active
		},
	}
}

// NewTicker returns a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: f.now.Add(d), interval: d, ch: ch}
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()

	return &Ticker{C: ch, stop: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves time forward by d, firing every waiter whose deadline is
// reached. Tickers fire once per elapsed interval; ticks that overflow the
// channel are dropped.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	f.mu.Unlock()

	for {
		due := f.collect(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		for _, w := range due {
			if w.fn != nil {
				w.fn()
				continue
			}
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

func (f *Fake) collect(target time.Time) []*waiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, remaining []*waiter
	for _, w := range f.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			due = append(due, w)
		default:
			remaining = append(remaining, w)
		}
	}
	for _, w := range due {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}
	f.waiters = remaining
	return due
}

// Pending returns the number of live timers and tickers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

// WaitForTimers blocks until at least n timers or tickers are registered.
// It closes the race between a goroutine arming a timer and the test
// advancing the clock.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
