// Package storage persists document snapshots. Store is a size-capped local
// cache on bbolt with explicit LRU ordering; SnapshotPersister debounces
// document changes into local and host-side snapshot writes with a
// single-flight retry loop.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDocuments = []byte("documents")
	bucketMeta      = []byte("meta")
	keyLRU          = []byte("lru")
)

// Store is a local LRU cache of serialized documents in a single bbolt file.
//
// The LRU order is an explicit id list under a metadata key, most recent
// first. Concurrent writers may race the list against the document bucket;
// the result is at worst an orphaned document key, which the next Store call
// removes during its cleanup pass. Read failures degrade to a cache miss
// with a logged warning, never an error.
type Store struct {
	db        *bolt.DB
	cacheSize int
}

// NewStore opens (or creates) the cache file. cacheSize caps the number of
// retained documents.
func NewStore(path string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cacheSize)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open document cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocuments); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache buckets: %w", err)
	}

	return &Store{db: db, cacheSize: cacheSize}, nil
}

// Close closes the underlying bbolt file. Implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store writes the document, moves its id to the front of the LRU list, then
// removes every stored document whose id fell off the capped list. Cleanup
// also collects orphans left behind by interrupted or racing writers.
func (s *Store) Store(id string, data []byte) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		if err := docs.Put([]byte(id), data); err != nil {
			return err
		}

		order, err := touchLRU(tx, id, s.cacheSize)
		if err != nil {
			return err
		}

		// Cleanup pass: anything not on the list is garbage.
		kept := make(map[string]bool, len(order))
		for _, k := range order {
			kept[k] = true
		}
		var evict [][]byte
		if err := docs.ForEach(func(k, _ []byte) error {
			if !kept[string(k)] {
				evict = append(evict, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range evict {
			if err := docs.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store document %q: %w", id, err)
	}
	return nil
}

// Load returns the cached bytes for id, touching its LRU position, or nil if
// the document is absent. Any storage failure also yields nil with a logged
// warning; a cache miss must never take the caller down. Load does not run
// the orphan cleanup pass, keeping reads cheap.
func (s *Store) Load(id string) []byte {
	var data []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		stored := tx.Bucket(bucketDocuments).Get([]byte(id))
		if stored == nil {
			return nil
		}
		data = append([]byte(nil), stored...)

		_, err := touchLRU(tx, id, s.cacheSize)
		return err
	})
	if err != nil {
		slog.Warn("failed to load cached document", "documentId", id, "error", err)
		return nil
	}
	return data
}

// Keys returns the current LRU order, most recent first. Intended for
// inspection and tests.
func (s *Store) Keys() ([]string, error) {
	var order []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		order, err = readLRU(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read LRU list: %w", err)
	}
	return order, nil
}

// touchLRU moves id to the front of the LRU list and truncates it to
// cacheSize, returning the resulting order.
func touchLRU(tx *bolt.Tx, id string, cacheSize int) ([]string, error) {
	order, err := readLRU(tx)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, len(order)+1)
	next = append(next, id)
	for _, k := range order {
		if k != id {
			next = append(next, k)
		}
	}
	if len(next) > cacheSize {
		next = next[:cacheSize]
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := tx.Bucket(bucketMeta).Put(keyLRU, encoded); err != nil {
		return nil, err
	}
	return next, nil
}

// readLRU decodes the LRU list, treating a missing or corrupt list as empty
// rather than fatal.
func readLRU(tx *bolt.Tx) ([]string, error) {
	raw := tx.Bucket(bucketMeta).Get(keyLRU)
	if raw == nil {
		return nil, nil
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		slog.Warn("resetting corrupt LRU list", "error", err)
		return nil, nil
	}
	return order, nil
}
