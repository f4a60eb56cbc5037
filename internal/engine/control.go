package engine

import (
	"sync"

	"scriptroom/internal/execution"
)

// control is the per-invocation handle a script sees as "Script".
type control struct {
	scriptID string
	reg      *execution.Registry

	mu     sync.Mutex
	execID string
}

// attach assigns the execution id and registers e while holding the handle's
// lock, so a concurrent stopSelf sees both or neither.
func (c *control) attach(e *execution.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execID = e.ID
	c.reg.Add(c.scriptID, e)
}

func (c *control) executionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execID
}

// stopSelf stops this invocation's execution through the registry.
func (c *control) stopSelf() error {
	c.mu.Lock()
	id := c.execID
	c.mu.Unlock()
	if id == "" {
		return ErrStopSelfBeforeExecution
	}
	c.reg.Stop(c.scriptID, id)
	return nil
}
