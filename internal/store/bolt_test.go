package store

import (
	"errors"
	"path/filepath"
	"testing"

	"scriptroom/internal/script"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetContainer(t *testing.T) {
	s := newTestStore(t)

	c := script.Container{Scripts: []script.Stored{
		{
			ID:        "a",
			CreatedAt: 10,
			UpdatedAt: 20,
			Record: script.Record{
				Name: "Ping",
				Code: "return 1",
				Parameters: []script.Parameter{
					{Name: "target", Type: script.TypeEntityRef, Value: script.EntityRef{"id": "tok"}},
					{Name: "n", Type: script.TypeNumber, Value: 3.0},
				},
			},
		},
		{ID: "b", Record: script.Record{Name: "Pong", Code: "return 2", Parameters: []script.Parameter{}}},
	}}

	if err := s.SaveContainer(c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetContainer()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Scripts) != 2 {
		t.Fatalf("scripts = %d, want 2", len(got.Scripts))
	}
	if got.Scripts[0].ID != "a" || got.Scripts[1].ID != "b" {
		t.Errorf("order = %s, %s, want a, b", got.Scripts[0].ID, got.Scripts[1].ID)
	}
	first := got.Scripts[0]
	if first.CreatedAt != 10 || first.UpdatedAt != 20 {
		t.Errorf("timestamps = %d/%d, want 10/20", first.CreatedAt, first.UpdatedAt)
	}
	ref, ok := first.Parameters[0].Value.(script.EntityRef)
	if !ok || ref.ID() != "tok" {
		t.Errorf("entity param = %#v", first.Parameters[0].Value)
	}
	if first.Parameters[1].Value != 3.0 {
		t.Errorf("number param = %v, want 3", first.Parameters[1].Value)
	}
}

func TestGetContainerNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetContainer()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveEmptyContainer(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveContainer(script.Container{}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetContainer()
	if err != nil {
		t.Fatal(err)
	}
	if got.Scripts == nil || len(got.Scripts) != 0 {
		t.Errorf("scripts = %#v, want empty", got.Scripts)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetSettings(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	err := s.UpdateSettings(func(st *Settings) error {
		if !st.ToolEnabled {
			t.Error("default tool_enabled = false, want true")
		}
		st.Shortcuts["B"] = "script-1"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	if got.Shortcuts["B"] != "script-1" {
		t.Errorf("shortcut B = %q, want script-1", got.Shortcuts["B"])
	}

	got.ToolEnabled = false
	if err := s.SaveSettings(got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSettings()
	if got.ToolEnabled {
		t.Error("tool_enabled = true, want false")
	}
}

func TestUpdateSettingsErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")
	err := s.UpdateSettings(func(st *Settings) error {
		st.Shortcuts["C"] = "x"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetSettings(); !errors.Is(err, ErrNotFound) {
		t.Errorf("settings persisted despite error: %v", err)
	}
}

func TestValidShortcut(t *testing.T) {
	for _, l := range ShortcutLetters {
		if !ValidShortcut(l) {
			t.Errorf("%s should be valid", l)
		}
	}
	for _, l := range []string{"A", "b", "", "BC"} {
		if ValidShortcut(l) {
			t.Errorf("%q should be invalid", l)
		}
	}
}
