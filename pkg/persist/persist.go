// Package persist stores the serialized exchange state under a single key.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// StateKey is the single key the exchange state is stored under.
const StateKey = "exchangeContext"

// ErrNotFound means no state has been persisted yet. A fresh session is not an error
// for callers; they fall back to defaults.
var ErrNotFound = errors.New("no persisted state")

// Persister is a client-side store holding one serialized state.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
	Close() error
}

// --- In-memory store (tests, headless runs) ---

type MemStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Load(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemStore) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *MemStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *MemStore) Close() error { return nil }

// SaveCount returns the number of writes so far.
func (m *MemStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// --- File store ---

// FileStore keeps the state in one JSON file. Each write goes to a temporary
// file first and the previous snapshot is kept as <path>.bak.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *FileStore) Save(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded state is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if prev, err := os.ReadFile(f.path); err == nil {
		if err := os.WriteFile(f.path+".bak", prev, 0644); err != nil {
			return fmt.Errorf("failed to write state backup: %w", err)
		}
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, f.path)
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

// RestoreBackup replaces the state file with the previous snapshot.
func (f *FileStore) RestoreBackup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path + ".bak")
	if os.IsNotExist(err) {
		return fmt.Errorf("no backup found")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}

// --- LevelDB store ---

// LevelStore keeps the state in a LevelDB database under StateKey.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore creates or opens a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	return &LevelStore{db: db}, nil
}

func (l *LevelStore) Load(ctx context.Context) ([]byte, error) {
	data, err := l.db.Get([]byte(StateKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l *LevelStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put([]byte(StateKey), data, nil)
}

func (l *LevelStore) Clear(ctx context.Context) error {
	return l.db.Delete([]byte(StateKey), nil)
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}
