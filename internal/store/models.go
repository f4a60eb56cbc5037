package store

// ShortcutLetters are the keys a script can be bound to, in display order.
var ShortcutLetters = []string{"B", "C", "E", "F", "G", "L", "N", "O", "P", "R", "V", "X"}

// ValidShortcut reports whether letter is one of ShortcutLetters.
func ValidShortcut(letter string) bool {
	for _, l := range ShortcutLetters {
		if l == letter {
			return true
		}
	}
	return false
}

// Settings holds per-participant preferences.
type Settings struct {
	// Shortcuts maps a shortcut letter to a script id.
	Shortcuts   map[string]string `json:"shortcuts"`
	ToolEnabled bool              `json:"tool_enabled"`
}

// DefaultSettings returns empty settings with the tool enabled.
func DefaultSettings() *Settings {
	return &Settings{Shortcuts: make(map[string]string), ToolEnabled: true}
}
