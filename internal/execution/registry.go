// Package execution tracks long-running script invocations per script id.
// The registry is volatile; nothing here is persisted.
package execution

import (
	"sync"
)

// DefaultName names executions started from a bare stop function.
const DefaultName = "Running"

// Execution is a handle to a still-running invocation.
type Execution struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	stopOnce sync.Once
	stop     func()
}

// New returns an execution whose stop callback runs at most once. The name
// is kept as given, empty included.
func New(id, name string, stop func()) *Execution {
	return &Execution{ID: id, Name: name, stop: stop}
}

// Stop invokes the stop callback. Later calls do nothing.
func (e *Execution) Stop() {
	e.stopOnce.Do(func() {
		if e.stop != nil {
			e.stop()
		}
	})
}

// Info is a snapshot row of the registry.
type Info struct {
	ScriptID string `json:"script_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// Registry maps script ids to their live executions.
type Registry struct {
	mu    sync.Mutex
	execs map[string][]*Execution
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[string][]*Execution)}
}

// Add appends e to the list for scriptID.
func (r *Registry) Add(scriptID string, e *Execution) {
	r.mu.Lock()
	r.execs[scriptID] = append(r.execs[scriptID], e)
	r.mu.Unlock()
}

// Remove drops the execution from the registry without stopping it. A remote
// participant may already have stopped the work; only bookkeeping is left.
func (r *Registry) Remove(scriptID, execID string) {
	r.mu.Lock()
	r.take(scriptID, execID)
	r.mu.Unlock()
}

// Stop stops and removes one execution. Unknown pairs are ignored. It reports
// whether an execution was found.
func (r *Registry) Stop(scriptID, execID string) bool {
	r.mu.Lock()
	e := r.take(scriptID, execID)
	r.mu.Unlock()

	if e == nil {
		return false
	}
	e.Stop()
	return true
}

// StopAll stops every execution of scriptID and returns their ids.
func (r *Registry) StopAll(scriptID string) []string {
	r.mu.Lock()
	list := r.execs[scriptID]
	delete(r.execs, scriptID)
	r.mu.Unlock()

	ids := make([]string, 0, len(list))
	for _, e := range list {
		e.Stop()
		ids = append(ids, e.ID)
	}
	return ids
}

// Find returns the script id owning execID.
func (r *Registry) Find(execID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for scriptID, list := range r.execs {
		for _, e := range list {
			if e.ID == execID {
				return scriptID, true
			}
		}
	}
	return "", false
}

// List returns the executions of scriptID in registration order.
func (r *Registry) List(scriptID string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.execs[scriptID]))
	for _, e := range r.execs[scriptID] {
		out = append(out, Info{ScriptID: scriptID, ID: e.ID, Name: e.Name})
	}
	return out
}

// Snapshot returns every live execution.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Info
	for scriptID, list := range r.execs {
		for _, e := range list {
			out = append(out, Info{ScriptID: scriptID, ID: e.ID, Name: e.Name})
		}
	}
	return out
}

// Clear stops everything. Used at process teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	all := r.execs
	r.execs = make(map[string][]*Execution)
	r.mu.Unlock()

	for _, list := range all {
		for _, e := range list {
			e.Stop()
		}
	}
}

// take removes and returns the matching execution. Caller holds r.mu.
func (r *Registry) take(scriptID, execID string) *Execution {
	list := r.execs[scriptID]
	for i, e := range list {
		if e.ID != execID {
			continue
		}
		rest := append(list[:i:i], list[i+1:]...)
		if len(rest) == 0 {
			delete(r.execs, scriptID)
		} else {
			r.execs[scriptID] = rest
		}
		return e
	}
	return nil
}
