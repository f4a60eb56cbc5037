package engine

import (
	"math"
	"sync"
	"time"
)

// loop serializes every interaction with one interpreter instance. Jobs run
// on a single goroutine in post order; timers post their callbacks back onto
// the loop instead of running them directly.
type loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	timers map[*time.Timer]struct{}

	wake chan struct{}
	done chan struct{}

	closeHooks []func() // run by close, any goroutine
	exitHooks  []func() // run by the loop goroutine on exit
}

func newLoop() *loop {
	return &loop{
		timers: make(map[*time.Timer]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// run processes jobs until close. Call it on its own goroutine.
func (l *loop) run() {
	defer func() {
		l.mu.Lock()
		hooks := l.exitHooks
		l.mu.Unlock()
		for _, h := range hooks {
			h()
		}
	}()

	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			job, ok := l.next()
			if !ok {
				break
			}
			job()
		}
	}
}

func (l *loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	job := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return job, true
}

// post schedules fn and reports whether the loop accepted it.
func (l *loop) post(fn func()) bool {
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

// after posts fn once d has elapsed. The returned func cancels it.
func (l *loop) after(d time.Duration, fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.post(fn)
	})
	l.timers[t] = struct{}{}
	return func() {
		t.Stop()
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
	}
}

// every posts fn each d until cancelled or the loop closes.
func (l *loop) every(d time.Duration, fn func()) func() {
	if d <= 0 {
		d = time.Millisecond
	}
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		tk := time.NewTicker(d)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.done:
				return
			case <-tk.C:
				if !l.post(fn) {
					return
				}
			}
		}
	}()
	return cancel
}

// onClose registers fn to run when the loop is closed.
func (l *loop) onClose(fn func()) {
	l.mu.Lock()
	l.closeHooks = append(l.closeHooks, fn)
	l.mu.Unlock()
}

// onExit registers fn to run on the loop goroutine after the last job.
func (l *loop) onExit(fn func()) {
	l.mu.Lock()
	l.exitHooks = append(l.exitHooks, fn)
	l.mu.Unlock()
}

// close drops pending jobs, stops timers and ends the loop goroutine once the
// current job returns. Safe to call more than once and from any goroutine.
func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	for t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	hooks := l.closeHooks
	l.closeHooks = nil
	l.mu.Unlock()

	close(l.done)
	for _, h := range hooks {
		h()
	}
}

func (l *loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// millisFloat converts a script-supplied millisecond count to a duration.
// Negative and NaN inputs become zero.
func millisFloat(ms float64) time.Duration {
	if ms < 0 || math.IsNaN(ms) {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
