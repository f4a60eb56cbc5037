// Package events carries session changes and user notifications to UI
// clients. Producers call the typed emitters on Bus; consumers subscribe to
// the event types they render.
package events

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventNotification     = "notification"
	EventScriptsChanged   = "scripts_changed"
	EventExecutionStarted = "execution_started"
	EventExecutionStopped = "execution_stopped"
	EventExecutionReset   = "execution_reset"
	EventArtifactsRemoved = "artifacts_removed"
	EventShortcutsChanged = "shortcuts_changed"
)

// Event is one frame as pushed to UI clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExecutionRef is the payload of the execution events.
type ExecutionRef struct {
	ScriptID    string `json:"script_id"`
	ExecutionID string `json:"execution_id"`
}

// Artifacts is the payload of EventArtifactsRemoved: every UI artifact
// owned by these scripts should be dropped.
type Artifacts struct {
	ScriptIDs []string `json:"script_ids"`
}

type Handler func(Event)

type subscription struct {
	handler Handler
	types   map[string]struct{} // nil matches every type
}

func (s subscription) wants(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Bus delivers events synchronously, in emit order, to every matching
// subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]subscription),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers h for the named event types, or for all of them when
// none are given. The returned func unsubscribes.
func (b *Bus) Subscribe(h Handler, types ...string) func() {
	sub := subscription{handler: h}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// ScriptsChanged signals that either script collection changed.
func (b *Bus) ScriptsChanged() { b.emit(EventScriptsChanged, nil) }

// ShortcutsChanged signals a change to bindings or the shortcut tool.
func (b *Bus) ShortcutsChanged() { b.emit(EventShortcutsChanged, nil) }

func (b *Bus) ExecutionStarted(ref ExecutionRef) { b.emit(EventExecutionStarted, ref) }

func (b *Bus) ExecutionStopped(ref ExecutionRef) { b.emit(EventExecutionStopped, ref) }

// ExecutionReset asks clients to drop whatever they show for an execution,
// whether or not it was still running.
func (b *Bus) ExecutionReset(ref ExecutionRef) { b.emit(EventExecutionReset, ref) }

// ArtifactsRemoved reports scripts whose UI artifacts are gone.
func (b *Bus) ArtifactsRemoved(scriptIDs []string) {
	b.emit(EventArtifactsRemoved, Artifacts{ScriptIDs: scriptIDs})
}

// emit calls every matching handler; a panicking handler is recovered and
// the rest still run.
func (b *Bus) emit(eventType string, data any) {
	ev := Event{Type: eventType, Data: data}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(eventType) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", eventType, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
