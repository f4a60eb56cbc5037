package execution

import (
	"sync"
	"testing"
)

func TestStopCallsOnceAndRemoves(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Add("s1", New("e1", "Loop", func() { calls++ }))

	if got := len(r.List("s1")); got != 1 {
		t.Fatalf("list len = %d, want 1", got)
	}
	if !r.Stop("s1", "e1") {
		t.Fatal("Stop returned false for known execution")
	}
	if r.Stop("s1", "e1") {
		t.Error("second Stop should report not found")
	}
	if calls != 1 {
		t.Errorf("stop calls = %d, want 1", calls)
	}
	if got := len(r.List("s1")); got != 0 {
		t.Errorf("list len = %d, want 0", got)
	}
}

func TestStopUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Add("s1", New("e1", "", func() { t.Error("unexpected stop") }))
	r.Stop("s1", "missing")
	r.Stop("missing", "e1")
	if got := len(r.List("s1")); got != 1 {
		t.Errorf("list len = %d, want 1", got)
	}
}

func TestRemoveDoesNotStop(t *testing.T) {
	r := NewRegistry()
	stopped := false
	r.Add("s1", New("e1", "", func() { stopped = true }))
	r.Remove("s1", "e1")
	if stopped {
		t.Error("Remove must not call stop")
	}
	if len(r.Snapshot()) != 0 {
		t.Error("registry not empty after Remove")
	}
}

func TestEmptyNameKept(t *testing.T) {
	e := New("e1", "", nil)
	if e.Name != "" {
		t.Errorf("name = %q, want empty", e.Name)
	}
	e.Stop()
}

func TestExecutionStopIdempotent(t *testing.T) {
	r := NewRegistry()
	calls := 0
	e := New("e1", "Loop", func() { calls++ })
	r.Add("s1", e)

	e.Stop()
	r.Stop("s1", "e1")
	e.Stop()
	if calls != 1 {
		t.Errorf("stop calls = %d, want 1", calls)
	}
}

func TestStopAllAndFind(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	stopped := map[string]bool{}
	for _, id := range []string{"a", "b"} {
		id := id
		r.Add("s1", New(id, "", func() {
			mu.Lock()
			stopped[id] = true
			mu.Unlock()
		}))
	}
	r.Add("s2", New("c", "", func() { t.Error("s2 should keep running") }))

	if sid, ok := r.Find("b"); !ok || sid != "s1" {
		t.Errorf("Find(b) = %q, %v", sid, ok)
	}

	ids := r.StopAll("s1")
	if len(ids) != 2 || !stopped["a"] || !stopped["b"] {
		t.Errorf("StopAll ids = %v, stopped = %v", ids, stopped)
	}
	if _, ok := r.Find("a"); ok {
		t.Error("a should be gone")
	}
	if got := len(r.List("s2")); got != 1 {
		t.Errorf("s2 list len = %d, want 1", got)
	}
}

func TestStopFromWithinCallback(t *testing.T) {
	r := NewRegistry()
	var e *Execution
	e = New("e1", "", func() {
		// A stop callback that re-enters the registry must not deadlock.
		r.Stop("s1", e.ID)
		r.List("s1")
	})
	r.Add("s1", e)
	r.Stop("s1", "e1")
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Add("s1", New("e1", "", func() { calls++ }))
	r.Add("s2", New("e2", "", func() { calls++ }))
	r.Clear()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(r.Snapshot()) != 0 {
		t.Error("registry not empty")
	}
}
