// Package engine runs script bodies in sandboxed interpreters. Each run gets
// its own interpreter and event loop; a run either finishes as a one-shot or
// hands back a stop callback that becomes a registered execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scriptroom/internal/events"
	"scriptroom/internal/execution"
	"scriptroom/internal/script"

	"github.com/google/uuid"
)

var (
	// ErrTimeout is reported when a run does not settle within the window.
	ErrTimeout = errors.New("timed out")
	// ErrStopSelfBeforeExecution is thrown inside a script that calls
	// Script.stopSelf before its run has become an execution.
	ErrStopSelfBeforeExecution = errors.New("stopSelf called before the execution was assigned")
	// ErrUnknownLanguage is returned for records with an unsupported language.
	ErrUnknownLanguage = errors.New("unknown script language")
)

// DefaultTimeout bounds how long Run waits for a script to settle.
const DefaultTimeout = time.Second

// RunMarker records that a script has been run.
type RunMarker interface {
	MarkRun(id string)
}

// Config configures an Engine.
type Config struct {
	Timeout         time.Duration
	DefaultLanguage string
	Capabilities    Capabilities
}

// Engine compiles and runs scripts.
type Engine struct {
	reg      *execution.Registry
	marker   RunMarker
	notifier events.Notifier
	logger   *slog.Logger
	cfg      Config

	mu     sync.Mutex
	loops  map[*loop]struct{}
	closed bool
}

// New creates an engine that registers executions in reg.
func New(reg *execution.Registry, marker RunMarker, notifier events.Notifier, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = script.LanguageJavaScript
	}
	return &Engine{
		reg:      reg,
		marker:   marker,
		notifier: notifier,
		logger:   logger.With("component", "engine"),
		cfg:      cfg,
		loops:    make(map[*loop]struct{}),
	}
}

// Capabilities returns the capability set bound into every run.
func (e *Engine) Capabilities() Capabilities { return e.cfg.Capabilities }

// outcome is the classified settlement of a script body.
type outcome struct {
	err  error
	name string
	stop func() // nil for a one-shot; runs on the loop
}

// sandbox is one interpreter instance bound to a loop.
type sandbox interface {
	// start runs on the loop goroutine and calls settle exactly once,
	// possibly from a later loop job.
	start(settle func(outcome))
}

type invocation struct {
	engine *Engine
	script script.Stored
	loop   *loop
	ctl    *control
	logger *slog.Logger

	mu        sync.Mutex
	abandoned bool
}

// Run executes s and returns the new execution id, or "" for a one-shot run
// or any failure. Failures are notified and logged, never returned.
func (e *Engine) Run(ctx context.Context, s script.Stored) string {
	lang := s.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}

	l := newLoop()
	if !e.track(l) {
		e.logger.Warn("run after close", "script", s.ID)
		return ""
	}

	inv := &invocation{
		engine: e,
		script: s,
		loop:   l,
		ctl:    &control{scriptID: s.ID, reg: e.reg},
		logger: e.logger.With("script", s.ID, "name", s.Name),
	}

	var sb sandbox
	switch lang {
	case script.LanguageJavaScript:
		sb = newJSSandbox(inv)
	case script.LanguageLua:
		sb = newLuaSandbox(inv)
	default:
		l.close()
		e.fail(s, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang))
		return ""
	}

	settled := make(chan outcome, 1)
	go l.run()
	l.post(func() {
		sb.start(func(out outcome) {
			inv.mu.Lock()
			defer inv.mu.Unlock()
			if inv.abandoned {
				inv.logger.Debug("late settlement discarded", "err", out.err)
				l.close()
				return
			}
			settled <- out
		})
	})

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-settled:
		return e.finish(inv, out)
	case <-timer.C:
		inv.abandon(settled)
		e.fail(s, ErrTimeout)
		return ""
	case <-ctx.Done():
		inv.abandon(settled)
		e.fail(s, ctx.Err())
		return ""
	}
}

// abandon stops waiting for the body. If it settled in the meantime the loop
// is closed right away, otherwise on late settlement.
func (inv *invocation) abandon(settled <-chan outcome) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.abandoned = true
	select {
	case <-settled:
		inv.loop.close()
	default:
	}
}

func (e *Engine) finish(inv *invocation, out outcome) string {
	s := inv.script
	if out.err != nil {
		inv.loop.close()
		e.fail(s, out.err)
		return ""
	}

	if out.stop == nil {
		inv.loop.close()
		e.marker.MarkRun(s.ID)
		inv.logger.Debug("one-shot run complete")
		return ""
	}

	l := inv.loop
	userStop := out.stop
	execID := uuid.NewString()
	exec := execution.New(execID, out.name, func() {
		l.post(func() {
			userStop()
			l.close()
		})
	})
	inv.ctl.attach(exec)
	e.marker.MarkRun(s.ID)
	inv.logger.Info("execution started", "execution", execID, "execution_name", exec.Name)
	return execID
}

func (e *Engine) fail(s script.Stored, err error) {
	e.logger.Error("script run failed", "script", s.ID, "name", s.Name, "err", err)
	msg := err.Error()
	if errors.Is(err, ErrTimeout) {
		msg = "Timed out"
	}
	e.notifier.Notify(events.LevelError, fmt.Sprintf("Script %q: %s", s.Name, msg))
}

// track adds l to the live set and arranges its removal on close.
func (e *Engine) track(l *loop) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.loops[l] = struct{}{}
	l.onClose(func() {
		e.mu.Lock()
		delete(e.loops, l)
		e.mu.Unlock()
	})
	return true
}

// Live returns the number of interpreters still running.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

// Close tears down every interpreter, including abandoned ones. Jobs already
// queued, such as stop callbacks posted by clearing the registry, get up to
// the run timeout to finish first.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	loops := make([]*loop, 0, len(e.loops))
	for l := range e.loops {
		loops = append(loops, l)
	}
	e.mu.Unlock()

	for _, l := range loops {
		l.post(l.close)
	}
	grace := time.NewTimer(e.cfg.Timeout)
	defer grace.Stop()
drain:
	for _, l := range loops {
		select {
		case <-l.done:
		case <-grace.C:
			e.logger.Warn("interpreters still busy at close, forcing")
			break drain
		}
	}
	for _, l := range loops {
		l.close()
	}
	e.logger.Info("engine closed", "interpreters", len(loops))
}

// Validate compiles r without running it.
func (e *Engine) Validate(r script.Record) error {
	lang := r.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	names := append(e.cfg.Capabilities.bindingNames(), paramNames(r.Parameters)...)
	switch lang {
	case script.LanguageJavaScript:
		return compileJS(r.Name, names, r.Code)
	case script.LanguageLua:
		return compileLua(r.Name, names, r.Code)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
}

func paramNames(params []script.Parameter) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

func (inv *invocation) bindingNames() []string {
	return append(inv.engine.cfg.Capabilities.bindingNames(), inv.script.ParameterNames()...)
}

func (inv *invocation) call(fn HostFunc, args []any) (any, error) {
	return fn(Call{ScriptID: inv.script.ID, Args: args})
}
