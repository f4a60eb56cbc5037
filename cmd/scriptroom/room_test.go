package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"scriptroom/internal/engine"
	"scriptroom/internal/events"
	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

type fakeHost struct {
	notes []events.Notification
}

func (h *fakeHost) Participant() session.Participant {
	return session.Participant{ID: "p1", Name: "Alice", Role: session.RoleGM}
}

func (h *fakeHost) Notify(level events.Level, msg string) {
	h.notes = append(h.notes, events.Notification{Level: level, Message: msg})
}

func TestRoomModule(t *testing.T) {
	hub := transport.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	self := hub.Join("p1")
	other := hub.Join("p2")

	var selfGot, otherGot []transport.Message
	self.Subscribe("dice", func(m transport.Message) { selfGot = append(selfGot, m) })
	other.Subscribe("dice", func(m transport.Message) { otherGot = append(otherGot, m) })

	host := &fakeHost{}
	mod := roomModule(host, self)
	if mod.Name != "Room" {
		t.Fatalf("name = %q", mod.Name)
	}
	call := func(fn string, args ...any) (any, error) {
		t.Helper()
		return mod.Funcs[fn](engine.Call{ScriptID: "s1", Args: args})
	}

	if _, err := call("notify", "rolled", "warning"); err != nil {
		t.Fatal(err)
	}
	if len(host.notes) != 1 || host.notes[0].Level != events.LevelWarning || host.notes[0].Message != "rolled" {
		t.Errorf("notes = %+v", host.notes)
	}

	if _, err := call("send", "dice", map[string]any{"n": 6}); err != nil {
		t.Fatal(err)
	}
	if len(selfGot) != 0 || len(otherGot) != 1 {
		t.Fatalf("default destination delivered self=%d other=%d, want 0 1", len(selfGot), len(otherGot))
	}
	var body map[string]int
	if err := json.Unmarshal(otherGot[0].Payload, &body); err != nil || body["n"] != 6 {
		t.Errorf("payload = %s", otherGot[0].Payload)
	}

	if _, err := call("send", "dice", 1, "LOCAL"); err != nil || len(selfGot) != 1 {
		t.Errorf("LOCAL send: err=%v self=%d", err, len(selfGot))
	}
	if _, err := call("send", "dice", 1, "SIDEWAYS"); err == nil {
		t.Error("unknown destination accepted")
	}
	if _, err := call("send", "", 1); err == nil {
		t.Error("empty channel accepted")
	}

	got, err := call("participant")
	if err != nil {
		t.Fatal(err)
	}
	p := got.(map[string]any)
	if p["id"] != "p1" || p["role"] != "GM" {
		t.Errorf("participant = %v", p)
	}

	self.Close()
	if _, err := call("send", "dice", 1); err == nil {
		t.Error("send on closed transport succeeded")
	}
}

func TestCapabilitiesVersioned(t *testing.T) {
	caps := capabilities(&fakeHost{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if caps.Version != capabilitiesVersion || len(caps.Modules) != 2 {
		t.Fatalf("capabilities = %+v", caps)
	}
	if caps.Modules[0].Name != "Room" || caps.Modules[1].Name != "System" {
		t.Errorf("module order = %s, %s", caps.Modules[0].Name, caps.Modules[1].Name)
	}
}
