// Package session holds one participant's view of a room: the local and
// shared script containers, live executions and shortcut settings. Every
// mutation goes through here so both containers and the shared document stay
// consistent.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scriptroom/internal/events"
	"scriptroom/internal/execution"
	"scriptroom/internal/script"
	"scriptroom/internal/store"
	"scriptroom/internal/transport"
)

var (
	ErrNotFound        = errors.New("script not found")
	ErrReadOnly        = errors.New("script is read-only")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidSnapshot = errors.New("invalid shared snapshot")
)

// Scope says which container a script lives in.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeShared Scope = "shared"
)

// Role is the participant's room role.
type Role string

const (
	RoleGM     Role = "GM"
	RolePlayer Role = "PLAYER"
)

// Participant identifies the local user.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsGM reports whether the participant may manage shared scripts.
func (p Participant) IsGM() bool { return p.Role == RoleGM }

// Runner executes a script and returns an execution id or "".
type Runner interface {
	Run(ctx context.Context, s script.Stored) string
}

// Options configures a State.
type Options struct {
	Participant Participant
	Store       store.Store
	Metadata    transport.Metadata
	Registry    *execution.Registry
	Bus         *events.Bus
	Logger      *slog.Logger
}

// State is the participant's session. Construct with New, tear down with
// Close.
type State struct {
	participant Participant
	store       store.Store
	meta        transport.Metadata
	reg         *execution.Registry
	bus         *events.Bus
	logger      *slog.Logger

	mu       sync.Mutex
	local    script.Container
	shared   script.Container
	settings *store.Settings
	active   map[string]string // shortcut letter -> execution id
	runner   Runner

	writeMu     sync.Mutex
	reconcileMu sync.Mutex
	persistMu   sync.Mutex

	unsub func()
}

// New loads persisted state, reads the current shared document and starts
// following document changes.
func New(ctx context.Context, opts Options) (*State, error) {
	s := &State{
		participant: opts.Participant,
		store:       opts.Store,
		meta:        opts.Metadata,
		reg:         opts.Registry,
		bus:         opts.Bus,
		logger:      opts.Logger.With("component", "session"),
		active:      make(map[string]string),
	}

	local, err := s.store.GetContainer()
	switch {
	case errors.Is(err, store.ErrNotFound):
		local = script.Container{Scripts: []script.Stored{}}
	case err != nil:
		return nil, fmt.Errorf("load local scripts: %w", err)
	}
	s.local = local

	settings, err := s.store.GetSettings()
	switch {
	case errors.Is(err, store.ErrNotFound):
		settings = store.DefaultSettings()
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.settings = settings
	s.shared = script.Container{Scripts: []script.Stored{}}

	doc, err := s.meta.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read shared scripts: %w", err)
	}
	if err := s.Reconcile(doc); err != nil {
		s.logger.Warn("ignoring initial shared document", "err", err)
	}
	s.unsub = s.meta.OnMetadataChange(func(doc []byte) {
		if err := s.Reconcile(doc); err != nil {
			s.logger.Warn("ignoring shared document", "err", err)
		}
	})

	s.logger.Info("session ready",
		"participant", s.participant.ID,
		"role", string(s.participant.Role),
		"local", len(s.local.Scripts),
		"shared", len(s.shared.Scripts))
	return s, nil
}

// SetRunner wires the engine. The engine itself depends on the session for
// MarkRun, so it is attached after construction.
func (s *State) SetRunner(r Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

// Participant returns the local participant.
func (s *State) Participant() Participant { return s.participant }

// Registry returns the execution registry.
func (s *State) Registry() *execution.Registry { return s.reg }

// Notify surfaces a message to the user.
func (s *State) Notify(level events.Level, msg string) {
	s.bus.Notify(level, msg)
}

// Close stops following the shared document and stops every execution.
func (s *State) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.reg.Clear()
}

// Entry is a script tagged with its scope and live executions.
type Entry struct {
	script.Stored
	Scope      Scope            `json:"scope"`
	Executions []execution.Info `json:"executions"`
}

// Scripts lists local scripts followed by shared ones.
func (s *State) Scripts() []Entry {
	s.mu.Lock()
	local := s.local.Clone()
	shared := s.shared.Clone()
	s.mu.Unlock()

	out := make([]Entry, 0, len(local.Scripts)+len(shared.Scripts))
	for _, sc := range local.Scripts {
		out = append(out, Entry{Stored: sc, Scope: ScopeLocal, Executions: s.reg.List(sc.ID)})
	}
	for _, sc := range shared.Scripts {
		out = append(out, Entry{Stored: sc, Scope: ScopeShared, Executions: s.reg.List(sc.ID)})
	}
	return out
}

// Find looks a script up by id in both scopes.
func (s *State) Find(id string) (script.Stored, Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *State) findLocked(id string) (script.Stored, Scope, bool) {
	if sc, ok := s.local.Find(id); ok {
		return sc.Clone(), ScopeLocal, true
	}
	if sc, ok := s.shared.Find(id); ok {
		return sc.Clone(), ScopeShared, true
	}
	return script.Stored{}, "", false
}

// Get is Find with an error for unknown ids.
func (s *State) Get(id string) (script.Stored, Scope, error) {
	sc, scope, ok := s.Find(id)
	if !ok {
		return script.Stored{}, "", fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	return sc, scope, nil
}

// Selector references a script by id or by name.
type Selector struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (sel Selector) String() string {
	if sel.ID != "" {
		return "id=" + sel.ID
	}
	return "name=" + sel.Name
}

// Resolve finds the script a selector names. Ids are exact; names match the
// first script in local-then-shared order and log a warning when ambiguous.
// An empty selector matches nothing, not even unnamed scripts.
func (s *State) Resolve(sel Selector) (script.Stored, error) {
	if sel.ID != "" {
		sc, _, err := s.Get(sel.ID)
		return sc, err
	}
	if sel.Name == "" {
		return script.Stored{}, fmt.Errorf("empty selector: %w", ErrNotFound)
	}

	s.mu.Lock()
	var matches []script.Stored
	for _, c := range []script.Container{s.local, s.shared} {
		for _, sc := range c.Scripts {
			if sc.Name == sel.Name {
				matches = append(matches, sc.Clone())
			}
		}
	}
	s.mu.Unlock()

	switch len(matches) {
	case 0:
		s.logger.Warn("no script matches selector", "selector", sel.String())
		return script.Stored{}, fmt.Errorf("script %s: %w", sel, ErrNotFound)
	case 1:
	default:
		s.logger.Warn("selector matches multiple scripts, using first",
			"selector", sel.String(), "matches", len(matches), "script", matches[0].ID)
	}
	return matches[0], nil
}
