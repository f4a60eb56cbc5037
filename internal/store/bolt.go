package store

import (
	"encoding/json"
	"fmt"
	"time"

	"scriptroom/internal/script"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLocal    = []byte("local")
	bucketSettings = []byte("settings")
	keyContainer   = []byte("container")
	keySettings    = []byte("settings")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLocal, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveContainer(c script.Container) error {
	if c.Scripts == nil {
		c.Scripts = []script.Stored{}
	}
	return s.put(bucketLocal, keyContainer, c)
}

func (s *BoltStore) GetContainer() (script.Container, error) {
	var c script.Container
	if err := s.get(bucketLocal, keyContainer, &c); err != nil {
		return script.Container{}, fmt.Errorf("local container: %w", err)
	}
	if c.Scripts == nil {
		c.Scripts = []script.Stored{}
	}
	return c, nil
}

func (s *BoltStore) SaveSettings(st *Settings) error {
	return s.put(bucketSettings, keySettings, st)
}

func (s *BoltStore) GetSettings() (*Settings, error) {
	st := DefaultSettings()
	if err := s.get(bucketSettings, keySettings, st); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if st.Shortcuts == nil {
		st.Shortcuts = make(map[string]string)
	}
	return st, nil
}

func (s *BoltStore) UpdateSettings(fn func(st *Settings) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSettings)
		}
		st := DefaultSettings()
		if data := b.Get(keySettings); data != nil {
			if err := json.Unmarshal(data, st); err != nil {
				return err
			}
			if st.Shortcuts == nil {
				st.Shortcuts = make(map[string]string)
			}
		}
		if err := fn(st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(keySettings, data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket, key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) get(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}
