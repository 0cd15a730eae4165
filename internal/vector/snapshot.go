package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrSnapshotLocked is returned by Lock when another process owns the snapshot.
var ErrSnapshotLocked = errors.New("snapshot is locked by another process")

// SnapshotFile persists an Index as a single JSON file. Saves are serialized and
// written atomically (temp file + rename). Lock takes an exclusive advisory lock
// on "<path>.lock" so only one process writes the snapshot.
type SnapshotFile struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewSnapshotFile returns a snapshot stored at path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the snapshot file path.
func (s *SnapshotFile) Path() string {
	return s.path
}

// Lock acquires the exclusive snapshot lock without blocking.
func (s *SnapshotFile) Lock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock: %s)", ErrSnapshotLocked, s.lock.Path())
	}
	return nil
}

// Unlock releases the snapshot lock.
func (s *SnapshotFile) Unlock() error {
	return s.lock.Unlock()
}

// Load reads the snapshot into idx, replacing its contents. A missing file is not
// an error and leaves idx unchanged; a malformed file returns an error wrapping
// ErrMalformedSnapshot and also leaves idx unchanged.
func (s *SnapshotFile) Load(idx Index) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	return idx.Deserialize(data)
}

// Save writes the full contents of idx to the snapshot file.
func (s *SnapshotFile) Save(idx Index) error {
	data, err := idx.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
