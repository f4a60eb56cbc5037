package engine

import (
	"fmt"

	"scriptroom/internal/script"
)

// Call is one invocation of a host function from a script body.
type Call struct {
	ScriptID string
	Args     []any
}

// Arg returns argument i or nil.
func (c Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// String returns argument i formatted as text, "" when absent.
func (c Call) String(i int) string {
	switch v := c.Arg(i).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// HostFunc is a host-provided function callable from scripts. It runs on the
// invocation's loop and must not block for long.
type HostFunc func(call Call) (any, error)

// Module is a named set of host functions, bound as one global object.
type Module struct {
	Name  string
	Funcs map[string]HostFunc
}

// Capabilities is the closed set of modules every script receives, injected
// positionally after the control handle and console.
type Capabilities struct {
	Version string
	Modules []Module
}

// bindingNames returns the positional names bound before parameters.
func (c Capabilities) bindingNames() []string {
	names := []string{"Script", "console"}
	for _, m := range c.Modules {
		names = append(names, m.Name)
	}
	return names
}

// plainValue converts script parameter values into the plain map/slice shapes
// the interpreters understand.
func plainValue(v any) any {
	switch val := v.(type) {
	case script.EntityRef:
		return map[string]any(val)
	case []script.EntityRef:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = map[string]any(e)
		}
		return out
	default:
		return v
	}
}
