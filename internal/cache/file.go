package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const shardCount = 16

// record is one entry of the log. Values are zstd-compressed.
type record struct {
	Key   Fingerprint `cbor:"1,keyasint"`
	Value []byte      `cbor:"2,keyasint"`
}

type shard struct {
	mu      sync.RWMutex
	entries map[Fingerprint][]byte
}

// FileStore is an append-only log of CBOR records. The whole log is
// loaded at open; lookups hit the in-memory index, writes append one
// record with a single Write call.
type FileStore struct {
	path   string
	shards [shardCount]*shard
	log    *slog.Logger

	writeMu sync.Mutex
	f       *os.File
}

// OpenFile loads the log at path, creating it if missing. A truncated
// trailing record from an interrupted write is discarded, and the log is
// rewritten when it held duplicates or damage.
func OpenFile(path string, log *slog.Logger) (*FileStore, error) {
	s := &FileStore{path: path, log: log.With("cache_path", path)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[Fingerprint][]byte)}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	records, dirty, err := s.load()
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := s.compact(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache log: %w", err)
	}
	s.f = f
	s.log.Info("file cache loaded", "records", records, "entries", s.Len(), "compacted", dirty)
	return s, nil
}

func (s *FileStore) load() (records int, dirty bool, err error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open cache log: %w", err)
	}
	defer f.Close()

	dec := decMode.NewDecoder(bufio.NewReader(f))
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.log.Warn("dropping damaged cache tail", "offset", dec.NumBytesRead(), "error", err)
			dirty = true
			break
		}
		records++
		sh := s.shard(rec.Key)
		if _, ok := sh.entries[rec.Key]; ok {
			dirty = true
			continue
		}
		sh.entries[rec.Key] = rec.Value
	}
	return records, dirty, nil
}

// compact rewrites the log from the in-memory index and swaps it in.
func (s *FileStore) compact() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create compacted log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, sh := range s.shards {
		for key, value := range sh.entries {
			b, err := encMode.Marshal(record{Key: key, Value: value})
			if err != nil {
				f.Close()
				return fmt.Errorf("encode cache record: %w", err)
			}
			if _, err := w.Write(b); err != nil {
				f.Close()
				return fmt.Errorf("write compacted log: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write compacted log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync compacted log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close compacted log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache log: %w", err)
	}
	return nil
}

func (s *FileStore) shard(key Fingerprint) *shard {
	return s.shards[key[0]%shardCount]
}

func (s *FileStore) Get(_ context.Context, key Fingerprint) ([]byte, bool, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	compressed, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	value, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress cache entry %s: %w", key, err)
	}
	return value, true, nil
}

func (s *FileStore) Put(_ context.Context, key Fingerprint, value []byte) error {
	sh := s.shard(key)
	sh.mu.RLock()
	_, exists := sh.entries[key]
	sh.mu.RUnlock()
	if exists {
		return nil
	}

	compressed := zstdEncoder.EncodeAll(value, nil)
	b, err := encMode.Marshal(record{Key: key, Value: compressed})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sh.mu.Lock()
	if _, ok := sh.entries[key]; ok {
		sh.mu.Unlock()
		return nil
	}
	sh.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("cache log closed")
	}
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("append cache record: %w", err)
	}

	sh.mu.Lock()
	sh.entries[key] = compressed
	sh.mu.Unlock()
	return nil
}

// Len returns the number of distinct entries.
func (s *FileStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

func (s *FileStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
