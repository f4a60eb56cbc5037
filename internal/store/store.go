package store

import (
	"errors"

	"scriptroom/internal/script"
)

// ErrNotFound is returned when a requested document does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is the participant's local persistence channel.
type Store interface {
	// Local container
	SaveContainer(c script.Container) error
	GetContainer() (script.Container, error)

	// Settings
	SaveSettings(s *Settings) error
	GetSettings() (*Settings, error)

	// UpdateSettings atomically reads, modifies, and saves the settings in a
	// single transaction. Missing settings start from DefaultSettings.
	UpdateSettings(fn func(s *Settings) error) error

	// Close the store
	Close() error
}
