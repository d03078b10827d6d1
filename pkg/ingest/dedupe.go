package ingest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DedupeStore remembers packet ids that have completed processing, so a
// re-submitted packet with the same id becomes a no-op instead of a
// duplicate write.
type DedupeStore interface {
	// Seen reports whether the packet id has already been processed.
	Seen(packetID string) (bool, error)
	// Mark records a packet id as processed.
	Mark(packetID string) error
	// Close releases resources.
	Close() error
}

// BadgerDedupeStore implements DedupeStore on BadgerDB with a TTL, so
// the seen set stays bounded without explicit eviction.
type BadgerDedupeStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerDedupeStore opens a badger database at path. Entries expire
// after ttl; zero means 30 days.
func NewBadgerDedupeStore(path string, ttl time.Duration) (*BadgerDedupeStore, error) {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerDedupeStore{db: db, ttl: ttl}, nil
}

// Seen reports whether the packet id is in the store.
func (s *BadgerDedupeStore) Seen(packetID string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(packetID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark records the packet id with the configured TTL.
func (s *BadgerDedupeStore) Mark(packetID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(packetID), nil).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// Close closes the underlying database.
func (s *BadgerDedupeStore) Close() error {
	return s.db.Close()
}

// MemoryDedupeStore is an in-process DedupeStore for tests and setups
// that do not need persistence across restarts.
type MemoryDedupeStore struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryDedupeStore creates an empty in-memory store.
func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{seen: make(map[string]struct{})}
}

func (s *MemoryDedupeStore) Seen(packetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[packetID]
	return ok, nil
}

func (s *MemoryDedupeStore) Mark(packetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[packetID] = struct{}{}
	return nil
}

func (s *MemoryDedupeStore) Close() error {
	return nil
}
