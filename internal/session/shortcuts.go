package session

import (
	"context"
	"errors"
	"fmt"

	"scriptroom/internal/events"
	"scriptroom/internal/store"
)

var (
	ErrInvalidShortcut = errors.New("invalid shortcut letter")
	ErrToolDisabled    = errors.New("shortcut tool disabled")
)

// Binding is one shortcut letter with its mapped script and remembered
// execution, if any.
type Binding struct {
	Letter      string `json:"letter"`
	ScriptID    string `json:"script_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Shortcuts is the shortcut tool state.
type Shortcuts struct {
	Enabled  bool      `json:"enabled"`
	Bindings []Binding `json:"bindings"`
}

// Shortcuts returns every letter in display order.
func (s *State) Shortcuts() Shortcuts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Shortcuts{Enabled: s.settings.ToolEnabled, Bindings: make([]Binding, 0, len(store.ShortcutLetters))}
	for _, l := range store.ShortcutLetters {
		out.Bindings = append(out.Bindings, Binding{
			Letter:      l,
			ScriptID:    s.settings.Shortcuts[l],
			ExecutionID: s.active[l],
		})
	}
	return out
}

// Bind maps letter to script id.
func (s *State) Bind(letter, id string) error {
	if !store.ValidShortcut(letter) {
		return fmt.Errorf("bind %q: %w", letter, ErrInvalidShortcut)
	}
	if _, _, ok := s.Find(id); !ok {
		return fmt.Errorf("bind %q: script %s: %w", letter, id, ErrNotFound)
	}
	changed, err := s.updateSettings(func(st *store.Settings) bool {
		if st.Shortcuts[letter] == id {
			return false
		}
		st.Shortcuts[letter] = id
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		s.bus.ShortcutsChanged()
	}
	return nil
}

// Unbind clears letter.
func (s *State) Unbind(letter string) error {
	if !store.ValidShortcut(letter) {
		return fmt.Errorf("unbind %q: %w", letter, ErrInvalidShortcut)
	}
	changed, err := s.updateSettings(func(st *store.Settings) bool {
		if _, ok := st.Shortcuts[letter]; !ok {
			return false
		}
		delete(st.Shortcuts, letter)
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		s.bus.ShortcutsChanged()
	}
	return nil
}

// SetToolEnabled turns the shortcut tool on or off. Turning it off stops
// the executions shortcuts started.
func (s *State) SetToolEnabled(enabled bool) error {
	changed, err := s.updateSettings(func(st *store.Settings) bool {
		if st.ToolEnabled == enabled {
			return false
		}
		st.ToolEnabled = enabled
		return true
	})
	if err != nil || !changed {
		return err
	}
	if !enabled {
		s.mu.Lock()
		remembered := make([]string, 0, len(s.active))
		for _, execID := range s.active {
			remembered = append(remembered, execID)
		}
		s.mu.Unlock()
		for _, execID := range remembered {
			s.stopRemembered(execID)
		}
	}
	s.bus.ShortcutsChanged()
	return nil
}

// Press runs the script bound to letter, or stops the execution a previous
// press started. It returns the new execution id, if any.
func (s *State) Press(ctx context.Context, letter string) (string, error) {
	if !store.ValidShortcut(letter) {
		return "", fmt.Errorf("press %q: %w", letter, ErrInvalidShortcut)
	}

	s.mu.Lock()
	enabled := s.settings.ToolEnabled
	execID := s.active[letter]
	scriptID := s.settings.Shortcuts[letter]
	s.mu.Unlock()

	if !enabled {
		return "", fmt.Errorf("press %q: %w", letter, ErrToolDisabled)
	}
	if execID != "" {
		if s.stopRemembered(execID) {
			return "", nil
		}
		s.logger.Debug("remembered execution already ended", "shortcut", letter, "execution", execID)
	}

	if scriptID == "" {
		return "", fmt.Errorf("press %q: no script bound: %w", letter, ErrNotFound)
	}
	if _, _, ok := s.Find(scriptID); !ok {
		s.Notify(events.LevelError, fmt.Sprintf("Script for shortcut %s not found", letter))
		return "", fmt.Errorf("press %q: script %s: %w", letter, scriptID, ErrNotFound)
	}

	newID, err := s.Run(ctx, scriptID)
	if err != nil {
		return "", err
	}
	if newID != "" {
		s.mu.Lock()
		s.active[letter] = newID
		s.mu.Unlock()
		s.bus.ShortcutsChanged()
	}
	return newID, nil
}

// stopRemembered stops a live execution started from a shortcut. It
// reports false and forgets the id when the execution already ended.
func (s *State) stopRemembered(execID string) bool {
	scriptID, ok := s.reg.Find(execID)
	if !ok {
		s.clearExecution(execID)
		return false
	}
	s.StopExecution(scriptID, execID)
	return true
}

func (s *State) clearExecution(execID string) {
	s.mu.Lock()
	cleared := false
	for l, id := range s.active {
		if id == execID {
			delete(s.active, l)
			cleared = true
		}
	}
	s.mu.Unlock()
	if cleared {
		s.bus.ShortcutsChanged()
	}
}

// detachShortcuts unbinds every letter mapped to one of ids.
func (s *State) detachShortcuts(ids map[string]struct{}) {
	changed, err := s.updateSettings(func(st *store.Settings) bool {
		found := false
		for l, id := range st.Shortcuts {
			if _, ok := ids[id]; ok {
				delete(st.Shortcuts, l)
				found = true
			}
		}
		return found
	})
	if err != nil {
		s.logger.Error("detach shortcuts failed", "err", err)
		return
	}
	if changed {
		s.bus.ShortcutsChanged()
	}
}

// updateSettings applies fn in a store transaction and mirrors the result.
// fn reports whether it changed anything; unchanged settings are not saved.
func (s *State) updateSettings(fn func(st *store.Settings) bool) (bool, error) {
	var saved *store.Settings
	errUnchanged := errors.New("unchanged")
	err := s.store.UpdateSettings(func(st *store.Settings) error {
		if st.Shortcuts == nil {
			st.Shortcuts = make(map[string]string)
		}
		if !fn(st) {
			return errUnchanged
		}
		saved = cloneSettings(st)
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("save settings: %w", err)
	}

	s.mu.Lock()
	s.settings = saved
	s.mu.Unlock()
	return true, nil
}

func cloneSettings(st *store.Settings) *store.Settings {
	out := &store.Settings{Shortcuts: make(map[string]string, len(st.Shortcuts)), ToolEnabled: st.ToolEnabled}
	for l, id := range st.Shortcuts {
		out.Shortcuts[l] = id
	}
	return out
}
