package script

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Container is an ordered collection of stored scripts. It is a plain value:
// the operators below mutate it in place and the caller decides where the
// result goes. Scopes (local, shared) each hold their own Container.
type Container struct {
	Scripts []Stored `json:"scripts"`
}

// nowMillis is swapped in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// Clone returns a deep copy of c.
func (c Container) Clone() Container {
	out := Container{Scripts: make([]Stored, len(c.Scripts))}
	for i, s := range c.Scripts {
		out.Scripts[i] = s.Clone()
	}
	return out
}

// IDs returns the set of script ids in c.
func (c Container) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(c.Scripts))
	for _, s := range c.Scripts {
		ids[s.ID] = struct{}{}
	}
	return ids
}

// Find returns the script with the given id.
func (c Container) Find(id string) (Stored, bool) {
	if i := c.index(id); i >= 0 {
		return c.Scripts[i], true
	}
	return Stored{}, false
}

func (c Container) index(id string) int {
	for i := range c.Scripts {
		if c.Scripts[i].ID == id {
			return i
		}
	}
	return -1
}

// Add appends r under a fresh id and returns the stored copy.
func Add(c *Container, r Record) Stored {
	now := nowMillis()
	s := Stored{
		Record:    r,
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		RunAt:     0,
	}
	s = s.Clone()
	c.Scripts = append(c.Scripts, s)
	return s
}

// AddExisting appends s verbatim, keeping its id and timestamps.
func AddExisting(c *Container, s Stored) {
	c.Scripts = append(c.Scripts, s.Clone())
}

// Update replaces the patched record fields of script id. The id and
// creation time are preserved; UpdatedAt never moves backwards.
func Update(c *Container, id string, p Patch) {
	i := c.index(id)
	if i < 0 {
		return
	}
	s := c.Scripts[i].Clone()
	p.apply(&s.Record)
	s.UpdatedAt = max(nowMillis(), s.UpdatedAt)
	c.Scripts[i] = s
}

// Remove drops script id if present.
func Remove(c *Container, id string) {
	RemoveAll(c, map[string]struct{}{id: {}})
}

// RemoveAll drops every script whose id is in ids.
func RemoveAll(c *Container, ids map[string]struct{}) {
	kept := c.Scripts[:0:0]
	for _, s := range c.Scripts {
		if _, drop := ids[s.ID]; !drop {
			kept = append(kept, s)
		}
	}
	c.Scripts = kept
}

// MarkRun stamps RunAt on script id.
func MarkRun(c *Container, id string) {
	if i := c.index(id); i >= 0 {
		c.Scripts[i].RunAt = nowMillis()
	}
}

// SetParameterValue coerces raw into parameter index of script id. A missing
// script or index is a stale caller and only logged; a value that does not
// coerce is returned as an error and nothing changes.
func SetParameterValue(c *Container, id string, index int, raw any) error {
	i := c.index(id)
	if i < 0 {
		slog.Debug("set parameter on unknown script", "script", id, "index", index)
		return nil
	}
	s := c.Scripts[i]
	if index < 0 || index >= len(s.Parameters) {
		slog.Warn("parameter index out of range", "script", id, "index", index, "count", len(s.Parameters))
		return nil
	}
	p, err := Coerce(s.Parameters[index], raw)
	if err != nil {
		return err
	}
	s = s.Clone()
	s.Parameters[index] = p
	c.Scripts[i] = s
	return nil
}
