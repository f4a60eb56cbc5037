package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"scriptroom/internal/events"
	"scriptroom/internal/execution"
	"scriptroom/internal/script"
)

type fakeMarker struct {
	mu   sync.Mutex
	runs []string
}

func (m *fakeMarker) MarkRun(id string) {
	m.mu.Lock()
	m.runs = append(m.runs, id)
	m.mu.Unlock()
}

func (m *fakeMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []events.Notification
}

func (n *fakeNotifier) Notify(level events.Level, msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, events.Notification{Level: level, Message: msg})
	n.mu.Unlock()
}

func (n *fakeNotifier) last() (events.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return events.Notification{}, false
	}
	return n.msgs[len(n.msgs)-1], true
}

// signals is a capability module that lets scripts signal the test.
type signals struct {
	hits chan string
}

func newSignals() *signals { return &signals{hits: make(chan string, 16)} }

func (s *signals) module() Module {
	return Module{Name: "Signal", Funcs: map[string]HostFunc{
		"hit": func(call Call) (any, error) {
			s.hits <- call.String(0)
			return nil, nil
		},
		"echo": func(call Call) (any, error) {
			return call.Arg(0), nil
		},
	}}
}

func (s *signals) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.hits:
		if got != want {
			t.Fatalf("signal = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal %q", want)
	}
}

func (s *signals) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-s.hits:
		t.Fatalf("unexpected signal %q", got)
	case <-time.After(d):
	}
}

type harness struct {
	eng      *Engine
	reg      *execution.Registry
	marker   *fakeMarker
	notifier *fakeNotifier
	sig      *signals
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		reg:      execution.NewRegistry(),
		marker:   &fakeMarker{},
		notifier: &fakeNotifier{},
		sig:      newSignals(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = New(h.reg, h.marker, h.notifier, logger, Config{
		Timeout:      timeout,
		Capabilities: Capabilities{Version: "test", Modules: []Module{h.sig.module()}},
	})
	t.Cleanup(func() {
		h.reg.Clear()
		h.eng.Close()
	})
	return h
}

func stored(id, lang, code string, params ...script.Parameter) script.Stored {
	if params == nil {
		params = []script.Parameter{}
	}
	return script.Stored{
		ID: id,
		Record: script.Record{
			Name:       id,
			Language:   lang,
			Code:       code,
			Parameters: params,
		},
	}
}

func TestOneShotReturnsEmptyAndMarksRun(t *testing.T) {
	for _, lang := range []string{script.LanguageJavaScript, script.LanguageLua} {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			id := h.eng.Run(context.Background(), stored("ping", lang, "return 1"))
			if id != "" {
				t.Errorf("execution id = %q, want empty", id)
			}
			if h.marker.count() != 1 {
				t.Errorf("mark run count = %d, want 1", h.marker.count())
			}
			if n := len(h.reg.Snapshot()); n != 0 {
				t.Errorf("registry size = %d, want 0", n)
			}
		})
	}
}

func TestLoopExecutionStopsOnce(t *testing.T) {
	codes := map[string]string{
		script.LanguageJavaScript: `return { executionName: "Loop", stop: () => Signal.hit("stopped") }`,
		script.LanguageLua:        `return { executionName = "Loop", stop = function() Signal.hit("stopped") end }`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			id := h.eng.Run(context.Background(), stored("s1", lang, code))
			if id == "" {
				t.Fatal("expected execution id")
			}
			list := h.reg.List("s1")
			if len(list) != 1 || list[0].ID != id || list[0].Name != "Loop" {
				t.Fatalf("registry = %+v", list)
			}
			if h.marker.count() != 1 {
				t.Errorf("mark run count = %d, want 1", h.marker.count())
			}

			h.reg.Stop("s1", id)
			h.reg.Stop("s1", id)
			h.sig.wait(t, "stopped")
			h.sig.none(t, 50*time.Millisecond)
			if n := len(h.reg.List("s1")); n != 0 {
				t.Errorf("registry size = %d, want 0", n)
			}
		})
	}
}

func TestBareFunctionIsRunning(t *testing.T) {
	h := newHarness(t, time.Second)
	id := h.eng.Run(context.Background(), stored("s1", "", `return () => Signal.hit("bye")`))
	if id == "" {
		t.Fatal("expected execution id")
	}
	list := h.reg.List("s1")
	if len(list) != 1 || list[0].Name != execution.DefaultName {
		t.Fatalf("registry = %+v", list)
	}
	h.reg.Stop("s1", id)
	h.sig.wait(t, "bye")
}

func TestEmptyExecutionNameKept(t *testing.T) {
	codes := map[string]string{
		script.LanguageJavaScript: `return Script.continueExecution("", () => Signal.hit("stopped"))`,
		script.LanguageLua:        `return { executionName = "", stop = function() Signal.hit("stopped") end }`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			id := h.eng.Run(context.Background(), stored("s1", lang, code))
			if id == "" {
				t.Fatal("expected execution id")
			}
			list := h.reg.List("s1")
			if len(list) != 1 || list[0].Name != "" {
				t.Fatalf("registry = %+v, want one unnamed execution", list)
			}
			h.reg.Stop("s1", id)
			h.sig.wait(t, "stopped")
		})
	}
}

func TestCloseRunsStopsQueuedByClear(t *testing.T) {
	codes := map[string]string{
		script.LanguageJavaScript: `return Script.continueExecution("Loop", () => Signal.hit("stopped"))`,
		script.LanguageLua:        `return Script.continueExecution("Loop", function() Signal.hit("stopped") end)`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			if id := h.eng.Run(context.Background(), stored("s1", lang, code)); id == "" {
				t.Fatal("expected execution id")
			}

			h.reg.Clear()
			h.eng.Close()

			select {
			case got := <-h.sig.hits:
				if got != "stopped" {
					t.Errorf("signal = %q, want stopped", got)
				}
			default:
				t.Fatal("stop callback did not run before Close returned")
			}
			if n := h.eng.Live(); n != 0 {
				t.Errorf("live interpreters = %d, want 0", n)
			}
		})
	}
}

func TestTimeoutReturnsWithinBound(t *testing.T) {
	codes := map[string]string{
		script.LanguageJavaScript: `await new Promise(() => {})`,
		script.LanguageLua:        `while true do end`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, 50*time.Millisecond)
			start := time.Now()
			id := h.eng.Run(context.Background(), stored("slow", lang, code))
			elapsed := time.Since(start)

			if id != "" {
				t.Errorf("execution id = %q, want empty", id)
			}
			if elapsed > 500*time.Millisecond {
				t.Errorf("Run took %v, want about 50ms", elapsed)
			}
			if n := len(h.reg.Snapshot()); n != 0 {
				t.Errorf("registry size = %d, want 0", n)
			}
			if h.marker.count() != 0 {
				t.Error("timed out run must not mark run")
			}
			n, ok := h.notifier.last()
			if !ok || n.Level != events.LevelError || !strings.Contains(n.Message, "Timed out") {
				t.Errorf("notification = %+v", n)
			}
		})
	}
}

func TestLateSettlementDiscarded(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	code := `await Script.sleep(80); return Script.continueExecution("Late", () => Signal.hit("stop"))`
	if id := h.eng.Run(context.Background(), stored("late", "", code)); id != "" {
		t.Fatalf("execution id = %q, want empty", id)
	}
	time.Sleep(200 * time.Millisecond)
	if n := len(h.reg.Snapshot()); n != 0 {
		t.Errorf("late result registered: %+v", h.reg.Snapshot())
	}
	if h.eng.Live() != 0 {
		t.Errorf("live interpreters = %d, want 0", h.eng.Live())
	}
}

func TestStopSelfBeforeExecutionFails(t *testing.T) {
	codes := map[string]string{
		script.LanguageJavaScript: `Script.stopSelf()`,
		script.LanguageLua:        `Script.stopSelf()`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			if id := h.eng.Run(context.Background(), stored("s", lang, code)); id != "" {
				t.Errorf("execution id = %q, want empty", id)
			}
			n, ok := h.notifier.last()
			if !ok || !strings.Contains(n.Message, "stopSelf") {
				t.Errorf("notification = %+v, want stopSelf error", n)
			}
		})
	}
}

func TestStopSelfAfterAssignment(t *testing.T) {
	h := newHarness(t, time.Second)
	code := `
Script.after(20, () => Script.stopSelf())
return Script.continueExecution("Self", () => Signal.hit("stopped"))`
	id := h.eng.Run(context.Background(), stored("s", "", code))
	if id == "" {
		t.Fatal("expected execution id")
	}
	h.sig.wait(t, "stopped")
	if n := len(h.reg.List("s")); n != 0 {
		t.Errorf("registry size = %d, want 0", n)
	}
}

func TestParametersBoundPositionally(t *testing.T) {
	params := []script.Parameter{
		{Name: "greeting", Type: script.TypeString, Value: "hello"},
		{Name: "target", Type: script.TypeEntityRef, Value: script.EntityRef{"id": "tok1"}},
		{Name: "missing", Type: script.TypeNumber},
	}
	codes := map[string]string{
		script.LanguageJavaScript: `Signal.hit(greeting + ":" + target.id + ":" + (missing === undefined))`,
		script.LanguageLua:        `Signal.hit(greeting .. ":" .. target.id .. ":" .. tostring(missing == nil))`,
	}
	for lang, code := range codes {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, time.Second)
			h.eng.Run(context.Background(), stored("p", lang, code, params...))
			h.sig.wait(t, "hello:tok1:true")
		})
	}
}

func TestThrownErrorNotified(t *testing.T) {
	h := newHarness(t, time.Second)
	id := h.eng.Run(context.Background(), stored("bad", "", `throw new Error("kaboom")`))
	if id != "" {
		t.Errorf("execution id = %q, want empty", id)
	}
	n, ok := h.notifier.last()
	if !ok || n.Level != events.LevelError || !strings.Contains(n.Message, "kaboom") {
		t.Errorf("notification = %+v", n)
	}
	if h.marker.count() != 0 {
		t.Error("failed run must not mark run")
	}
}

func TestSyntaxErrorNotified(t *testing.T) {
	h := newHarness(t, time.Second)
	h.eng.Run(context.Background(), stored("bad", script.LanguageLua, `return (`))
	if n, ok := h.notifier.last(); !ok || !strings.Contains(n.Message, "syntax") {
		t.Errorf("notification = %+v", n)
	}
}

func TestLuaSandboxed(t *testing.T) {
	h := newHarness(t, time.Second)
	h.eng.Run(context.Background(), stored("sb", script.LanguageLua, `Signal.hit(tostring(os == nil and io == nil and require == nil))`))
	h.sig.wait(t, "true")
}

func TestUnknownLanguage(t *testing.T) {
	h := newHarness(t, time.Second)
	if id := h.eng.Run(context.Background(), stored("x", "cobol", "")); id != "" {
		t.Errorf("execution id = %q", id)
	}
	if n, ok := h.notifier.last(); !ok || !strings.Contains(n.Message, "unknown script language") {
		t.Errorf("notification = %+v", n)
	}
}

func TestTimersDieWithExecution(t *testing.T) {
	h := newHarness(t, time.Second)
	code := `
Script.every(10, () => Signal.hit("tick"))
return () => {}`
	id := h.eng.Run(context.Background(), stored("t", "", code))
	if id == "" {
		t.Fatal("expected execution id")
	}
	h.sig.wait(t, "tick")
	h.reg.Stop("t", id)

	deadline := time.Now().Add(time.Second)
	for h.eng.Live() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.eng.Live() != 0 {
		t.Fatal("interpreter still live after stop")
	}
	// Drain ticks posted before the stop landed.
	for len(h.sig.hits) > 0 {
		<-h.sig.hits
	}
	h.sig.none(t, 50*time.Millisecond)
}

func TestHostFuncRoundTrip(t *testing.T) {
	h := newHarness(t, time.Second)
	h.eng.Run(context.Background(), stored("e", script.LanguageLua, `local v = Signal.echo({1, 2, 3}); Signal.hit(tostring(#v))`))
	h.sig.wait(t, "3")
}

func TestValidate(t *testing.T) {
	h := newHarness(t, time.Second)
	if err := h.eng.Validate(script.Record{Code: "return 1"}); err != nil {
		t.Errorf("valid js: %v", err)
	}
	if err := h.eng.Validate(script.Record{Code: "return (", Language: script.LanguageJavaScript}); err == nil {
		t.Error("expected js syntax error")
	}
	if err := h.eng.Validate(script.Record{Code: "return 1", Language: script.LanguageLua}); err != nil {
		t.Errorf("valid lua: %v", err)
	}
	if err := h.eng.Validate(script.Record{Code: "return (", Language: script.LanguageLua}); err == nil {
		t.Error("expected lua syntax error")
	}
}
