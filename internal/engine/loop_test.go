package engine

import (
	"sync"
	"testing"
	"time"
)

func TestLoopRunsJobsInOrder(t *testing.T) {
	l := newLoop()
	go l.run()
	defer l.close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs did not run")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestLoopCloseRejectsJobsAndStopsTimers(t *testing.T) {
	l := newLoop()
	go l.run()

	fired := make(chan struct{}, 1)
	l.after(30*time.Millisecond, func() { fired <- struct{}{} })
	exited := make(chan struct{})
	l.onExit(func() { close(exited) })
	l.close()
	l.close()

	if !l.isClosed() {
		t.Error("loop not closed")
	}
	if l.post(func() {}) {
		t.Error("post accepted after close")
	}
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("loop goroutine did not exit")
	}
	select {
	case <-fired:
		t.Error("timer fired after close")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopEveryCancel(t *testing.T) {
	l := newLoop()
	go l.run()
	defer l.close()

	ticks := make(chan struct{}, 64)
	cancel := l.every(5*time.Millisecond, func() { ticks <- struct{}{} })
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)
	for len(ticks) > 0 {
		<-ticks
	}
	select {
	case <-ticks:
		t.Error("tick after cancel")
	case <-time.After(30 * time.Millisecond):
	}
}
