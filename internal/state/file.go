package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/adapters/realfs"
	"github.com/acolita/sshkeeper/internal/ports"
)

// FileStore keeps snapshots in a single JSON file.
type FileStore struct {
	path      string
	snapshots map[string]Snapshot
	mu        sync.RWMutex
	fs        ports.FileSystem
	clock     ports.Clock
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileSystem sets the filesystem used by FileStore.
func WithFileSystem(fs ports.FileSystem) FileStoreOption {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// WithPath sets a custom storage path.
func WithPath(path string) FileStoreOption {
	return func(s *FileStore) {
		s.path = path
	}
}

// WithClock sets the clock used for default activity timestamps.
func WithClock(clock ports.Clock) FileStoreOption {
	return func(s *FileStore) {
		s.clock = clock
	}
}

// NewFileStore creates a store and loads any existing file.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	store := &FileStore{
		snapshots: make(map[string]Snapshot),
		fs:        realfs.New(),
		clock:     realclock.New(),
	}

	for _, opt := range opts {
		opt(store)
	}

	if store.path == "" {
		store.path = store.defaultPath()
	}

	store.load()
	return store
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) defaultPath() string {
	home, err := s.fs.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	cacheDir := filepath.Join(home, ".cache", "sshkeeper")
	if err := s.fs.MkdirAll(cacheDir, 0700); err != nil {
		slog.Warn("failed to create cache dir, using /tmp", slog.String("error", err.Error()))
		cacheDir = "/tmp"
	}

	return filepath.Join(cacheDir, "connections.json")
}

// Get implements Store.
func (s *FileStore) Get(id string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	return snap, ok, nil
}

// All implements Store.
func (s *FileStore) All() ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

// Update implements Store. The in-memory state changes only once the file
// has been written.
func (s *FileStore) Update(id string, u Update) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	snap := apply(next[id], id, u, s.clock.Now())
	next[id] = snap
	if err := s.commit(next); err != nil {
		return snap, err
	}
	return snap, nil
}

// Delete implements Store.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return nil
	}
	next := s.clone()
	delete(next, id)
	return s.commit(next)
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(make(map[string]Snapshot))
}

// clone copies the snapshot map. Caller must hold s.mu.
func (s *FileStore) clone() map[string]Snapshot {
	next := make(map[string]Snapshot, len(s.snapshots)+1)
	for id, snap := range s.snapshots {
		next[id] = snap
	}
	return next
}

// commit persists next and makes it current. Caller must hold s.mu.
func (s *FileStore) commit(next map[string]Snapshot) error {
	if err := s.persist(next); err != nil {
		return err
	}
	s.snapshots = next
	return nil
}

func (s *FileStore) load() {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load connection state", slog.String("error", err.Error()))
		}
		return
	}

	if err := json.Unmarshal(data, &s.snapshots); err != nil {
		slog.Warn("failed to parse connection state", slog.String("error", err.Error()))
		s.snapshots = make(map[string]Snapshot)
	}
}

// persist writes snapshots to a temp file and renames it into place.
func (s *FileStore) persist(snapshots map[string]Snapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connection state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write connection state: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace connection state: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
