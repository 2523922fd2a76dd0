package spending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var spendingBucket = []byte("spending")

// BoltStore persists windows in an embedded bbolt file, the default for a
// single-machine gateway.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the spending database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open spending db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(spendingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create spending bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, p Period) (Window, bool, error) {
	var w Window
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(spendingBucket).Get([]byte(p))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &w)
	})
	if err != nil {
		return Window{}, false, fmt.Errorf("load %s window: %w", p, err)
	}
	return w, found, nil
}

func (s *BoltStore) Save(_ context.Context, p Period, w Window) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode %s window: %w", p, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(spendingBucket).Put([]byte(p), raw)
	})
	if err != nil {
		return fmt.Errorf("save %s window: %w", p, err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
