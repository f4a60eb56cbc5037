package session

import (
	"context"
	"fmt"

	"scriptroom/internal/events"
	"scriptroom/internal/script"
)

// Add stores r as a new local script.
func (s *State) Add(ctx context.Context, r script.Record) (script.Stored, error) {
	var added script.Stored
	err := s.write(ctx, func(local, _ *script.Container) error {
		added = script.Add(local, r)
		return nil
	})
	if err != nil {
		return script.Stored{}, err
	}
	s.logger.Info("script added", "script", added.ID, "name", added.Name)
	return added, nil
}

// Update patches the record of script id in whichever scope holds it.
// Imported scripts only change through Refresh.
func (s *State) Update(ctx context.Context, id string, p script.Patch) error {
	return s.write(ctx, func(local, shared *script.Container) error {
		sc, ok := findIn(id, local, shared)
		if !ok {
			return fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		if sc.ReadOnly() {
			return fmt.Errorf("update %s: %w", id, ErrReadOnly)
		}
		if p.URL != nil && *p.URL != "" {
			return fmt.Errorf("update %s: url is set only by import: %w", id, script.ErrValidation)
		}
		script.Update(local, id, p)
		script.Update(shared, id, p)
		return nil
	})
}

// Refresh replaces an imported script's content with a fresh import of the
// same url.
func (s *State) Refresh(ctx context.Context, id string, r script.Record) error {
	err := s.write(ctx, func(local, shared *script.Container) error {
		sc, ok := findIn(id, local, shared)
		if !ok {
			return fmt.Errorf("refresh %s: %w", id, ErrNotFound)
		}
		if !sc.ReadOnly() {
			return fmt.Errorf("refresh %s: script was not imported: %w", id, script.ErrValidation)
		}
		if r.URL != sc.URL {
			return fmt.Errorf("refresh %s: url %q does not match %q: %w", id, r.URL, sc.URL, script.ErrValidation)
		}
		p := script.PatchFrom(r)
		script.Update(local, id, p)
		script.Update(shared, id, p)
		return nil
	})
	if err != nil {
		return err
	}
	s.Notify(events.LevelSuccess, "Updated script")
	return nil
}

// SetParameterValue coerces raw into parameter index of script id and
// returns the parameter as stored. An unknown script or index is ErrNotFound
// and a value that does not coerce is a validation error; in both cases
// nothing is persisted, published or emitted.
func (s *State) SetParameterValue(ctx context.Context, id string, index int, raw any) (script.Parameter, error) {
	var set script.Parameter
	err := s.write(ctx, func(local, shared *script.Container) error {
		sc, ok := findIn(id, local, shared)
		if !ok {
			return fmt.Errorf("set parameter %s: %w", id, ErrNotFound)
		}
		if index < 0 || index >= len(sc.Parameters) {
			return fmt.Errorf("set parameter %s: index %d of %d: %w", id, index, len(sc.Parameters), ErrNotFound)
		}
		if err := script.SetParameterValue(local, id, index, raw); err != nil {
			return err
		}
		if err := script.SetParameterValue(shared, id, index, raw); err != nil {
			return err
		}
		sc, _ = findIn(id, local, shared)
		set = sc.Parameters[index]
		return nil
	})
	if err != nil {
		return script.Parameter{}, err
	}
	return set, nil
}

// Delete stops every execution of id, detaches its references and removes
// it from both scopes.
func (s *State) Delete(ctx context.Context, id string) error {
	if _, _, ok := s.Find(id); !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	s.removeReferences(map[string]struct{}{id: {}})
	if err := s.write(ctx, both(func(c *script.Container) { script.Remove(c, id) })); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.logger.Info("script deleted", "script", id)
	return nil
}

// Share moves a local script into the shared document, keeping its id.
func (s *State) Share(ctx context.Context, id string) error {
	return s.write(ctx, func(local, shared *script.Container) error {
		sc, ok := local.Find(id)
		if !ok {
			return fmt.Errorf("share %s: %w", id, ErrNotFound)
		}
		script.Remove(local, id)
		script.AddExisting(shared, sc)
		return nil
	})
}

// Unshare deletes a shared script from the room and keeps a local copy with
// the same id.
func (s *State) Unshare(ctx context.Context, id string) error {
	sc, scope, ok := s.Find(id)
	if !ok || scope != ScopeShared {
		return fmt.Errorf("unshare %s: %w", id, ErrNotFound)
	}
	s.removeReferences(map[string]struct{}{id: {}})
	return s.write(ctx, func(local, shared *script.Container) error {
		script.Remove(shared, id)
		script.AddExisting(local, sc)
		return nil
	})
}

// CopyToNew creates an editable local copy of script id authored by the
// participant.
func (s *State) CopyToNew(ctx context.Context, id string) (script.Stored, error) {
	sc, _, err := s.Get(id)
	if err != nil {
		return script.Stored{}, err
	}
	params := make([]script.Parameter, len(sc.Parameters))
	copy(params, sc.Parameters)
	return s.Add(ctx, script.Record{
		Name:        sc.Name + " (copy)",
		Author:      s.participant.Name,
		Description: sc.Description,
		Version:     sc.Version,
		Language:    sc.Language,
		Parameters:  params,
		Code:        sc.Code,
	})
}

// Run executes script id and returns the new execution id, or "" for a
// one-shot or failed run.
func (s *State) Run(ctx context.Context, id string) (string, error) {
	sc, _, err := s.Get(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	r := s.runner
	s.mu.Unlock()
	if r == nil {
		return "", fmt.Errorf("run %s: no runner", id)
	}

	execID := r.Run(ctx, sc)
	if execID != "" {
		s.bus.ExecutionStarted(events.ExecutionRef{ScriptID: id, ExecutionID: execID})
	}
	return execID, nil
}

// StopExecution stops one execution of scriptID and clears every shortcut
// and UI artifact tied to it. Unknown executions are ignored.
func (s *State) StopExecution(scriptID, execID string) {
	if s.reg.Stop(scriptID, execID) {
		s.logger.Info("execution stopped", "script", scriptID, "execution", execID)
		s.bus.ExecutionStopped(events.ExecutionRef{ScriptID: scriptID, ExecutionID: execID})
	}
	s.clearExecution(execID)
	s.bus.ExecutionReset(events.ExecutionRef{ScriptID: scriptID, ExecutionID: execID})
	s.reg.Remove(scriptID, execID)
}

func findIn(id string, containers ...*script.Container) (script.Stored, bool) {
	for _, c := range containers {
		if sc, ok := c.Find(id); ok {
			return sc, true
		}
	}
	return script.Stored{}, false
}
