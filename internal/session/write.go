package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"scriptroom/internal/script"
)

// mutation edits drafts of both containers. The same container operator is
// usually applied to each; operators are no-ops on ids a container lacks.
type mutation func(local, shared *script.Container) error

// both applies op to the local and the shared draft.
func both(op func(c *script.Container)) mutation {
	return func(local, shared *script.Container) error {
		op(local)
		op(shared)
		return nil
	}
}

// write applies fn to drafts, swaps them in, persists the local container
// and publishes the shared one as a whole-document replace. Writers are
// serialized; concurrent participants are last-writer-wins.
func (s *State) write(ctx context.Context, fn mutation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	local := s.local.Clone()
	shared := s.shared.Clone()
	if err := fn(&local, &shared); err != nil {
		s.mu.Unlock()
		return err
	}
	script.RemoveAll(&local, shared.IDs())

	before, err := json.Marshal(s.shared)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode shared scripts: %w", err)
	}
	after, err := json.Marshal(shared)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode shared scripts: %w", err)
	}
	s.local = local
	s.shared = shared
	s.mu.Unlock()

	if err := s.persistLocal(); err != nil {
		return err
	}
	if !bytes.Equal(before, after) {
		if err := s.meta.SetMetadata(ctx, after); err != nil {
			return fmt.Errorf("publish shared scripts: %w", err)
		}
	}
	s.bus.ScriptsChanged()
	return nil
}

// persistLocal saves the latest local container. Whoever persists last
// writes the newest state.
func (s *State) persistLocal() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	c := s.local.Clone()
	s.mu.Unlock()

	if err := s.store.SaveContainer(c); err != nil {
		return fmt.Errorf("save local scripts: %w", err)
	}
	return nil
}

// MarkRun stamps the run time in whichever scope holds id.
func (s *State) MarkRun(id string) {
	err := s.write(context.Background(), both(func(c *script.Container) {
		script.MarkRun(c, id)
	}))
	if err != nil {
		s.logger.Error("mark run failed", "script", id, "err", err)
	}
}
