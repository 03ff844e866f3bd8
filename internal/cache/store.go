package cache

import (
	"context"
	"log/slog"
	"sync"
)

// Store persists encoded results by fingerprint. Put of an existing key
// is a no-op: entries never change once written.
type Store interface {
	Get(ctx context.Context, key Fingerprint) ([]byte, bool, error)
	Put(ctx context.Context, key Fingerprint, value []byte) error
	Close() error
}

// Open picks the backing store: Postgres when dsn is set, the file log
// when path is set, memory otherwise.
func Open(ctx context.Context, path, dsn string, log *slog.Logger) (Store, error) {
	switch {
	case dsn != "":
		log.Info("opening postgres cache")
		return OpenPostgres(ctx, dsn)
	case path != "":
		log.Info("opening file cache", "path", path)
		return OpenFile(path, log)
	default:
		log.Info("using in-memory cache")
		return NewMemoryStore(), nil
	}
}

// MemoryStore keeps entries for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Fingerprint][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Fingerprint][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key Fingerprint) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key Fingerprint, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.entries[key] = append([]byte(nil), value...)
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }
