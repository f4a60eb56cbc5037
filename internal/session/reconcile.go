package session

import (
	"maps"
	"slices"

	"scriptroom/internal/events"
	"scriptroom/internal/script"
)

// Reconcile aligns the session with a new shared document. Scripts that
// vanished from the document lose their executions, shortcuts and UI
// artifacts before the mirror is swapped; local copies of scripts that are
// now shared are dropped.
func (s *State) Reconcile(doc []byte) error {
	snapshot, err := decodeSnapshot(doc)
	if err != nil {
		return err
	}

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	keep := snapshot.IDs()
	s.mu.Lock()
	gone := make(map[string]struct{})
	for id := range s.shared.IDs() {
		if _, ok := keep[id]; !ok {
			gone[id] = struct{}{}
		}
	}
	s.mu.Unlock()

	if len(gone) > 0 {
		s.logger.Info("shared scripts removed", "count", len(gone))
		s.removeReferences(gone)
	}

	s.mu.Lock()
	before := len(s.local.Scripts)
	script.RemoveAll(&s.local, keep)
	shadowed := before - len(s.local.Scripts)
	s.shared = snapshot
	s.mu.Unlock()

	if shadowed > 0 {
		s.logger.Debug("dropped local copies of shared scripts", "count", shadowed)
		if err := s.persistLocal(); err != nil {
			s.logger.Error("persist after reconcile failed", "err", err)
		}
	}
	s.bus.ScriptsChanged()
	return nil
}

// removeReferences tears down everything pointing at the given scripts:
// executions, remembered shortcut executions, shortcut bindings and UI
// artifacts. The scripts themselves are left alone.
func (s *State) removeReferences(ids map[string]struct{}) {
	for id := range ids {
		for _, execID := range s.reg.StopAll(id) {
			s.clearExecution(execID)
			s.bus.ExecutionStopped(events.ExecutionRef{ScriptID: id, ExecutionID: execID})
		}
	}
	s.detachShortcuts(ids)

	list := slices.Sorted(maps.Keys(ids))
	s.bus.ArtifactsRemoved(list)
}
