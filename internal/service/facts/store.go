package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrKeyRequired = errors.New("fact key is required")

// Store persists small key/value facts shared by every session.
type Store interface {
	Record(ctx context.Context, key, value string) error
	All() map[string]string
}

// FileStore keeps facts in a flat JSON object on disk. Every Record runs a
// full load-modify-persist cycle under one lock.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Record sets key to value, last write wins, and returns once the file is written.
func (s *FileStore) Record(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	facts := s.load()
	facts[key] = value
	return s.persist(facts)
}

// All returns a copy of every stored fact.
func (s *FileStore) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load treats a missing or unreadable file as an empty store.
func (s *FileStore) load() map[string]string {
	facts := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[facts] read %s failed, starting empty: %v", s.path, err)
		}
		return facts
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return facts
	}
	if err := json.Unmarshal(data, &facts); err != nil {
		log.Printf("[facts] %s is corrupt, starting empty: %v", s.path, err)
		return make(map[string]string)
	}
	return facts
}

func (s *FileStore) persist(facts map[string]string) error {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create facts dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".facts-*.json")
	if err != nil {
		return fmt.Errorf("create temp facts file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write facts: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync facts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close facts: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace facts file: %w", err)
	}
	return nil
}
