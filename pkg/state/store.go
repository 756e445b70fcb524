package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
)

var (
	// ErrNotInitialized is returned when the state file does not exist.
	ErrNotInitialized = errors.New("state file not found; run init first")

	// ErrLocked is returned when another run holds the state lock.
	ErrLocked = errors.New("state is locked by another run")

	// ErrReadOnly is returned when persisting through a read-only store.
	ErrReadOnly = errors.New("state store opened read-only")

	errLockHeld = errors.New("lock held")
)

// Mode selects what a Store may do with the state file.
type Mode int

const (
	// ReadOnly takes the lock but refuses Persist. Used by plan.
	ReadOnly Mode = iota

	// ReadWrite allows Persist. Used by apply and destroy.
	ReadWrite
)

// Store guards one state file with an exclusive advisory lock for the
// lifetime of a run.
type Store struct {
	path     string
	mode     Mode
	lockFile *os.File
	current  *Record
}

// LockPath returns the sidecar lock file used for path. The state file
// itself is replaced on every write, so it cannot carry the lock.
func LockPath(path string) string {
	return path + ".lock"
}

// Init creates an empty state file if none exists. It reports whether a new
// file was written.
func Init(path string, kind schema.Kind) (*Record, bool, error) {
	lock, err := acquire(path)
	if err != nil {
		return nil, false, err
	}
	defer release(lock)

	rec, err := read(path)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, ErrNotInitialized) {
		return nil, false, err
	}

	rec = NewRecord(kind)
	now := time.Now().UTC()
	rec.LastUpdated = &now
	if err := write(path, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Open locks and loads the state file. The lock is held until Close.
func Open(path string, mode Mode) (*Store, error) {
	lock, err := acquire(path)
	if err != nil {
		return nil, err
	}

	rec, err := read(path)
	if err != nil {
		release(lock)
		return nil, err
	}

	return &Store{
		path:     path,
		mode:     mode,
		lockFile: lock,
		current:  rec,
	}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() *Record {
	return s.current.Clone()
}

// Persist writes rec as the next revision of the state. The serial and
// timestamp are assigned here.
func (s *Store) Persist(rec *Record) error {
	if s.mode != ReadWrite {
		return ErrReadOnly
	}
	if s.lockFile == nil {
		return fmt.Errorf("state store is closed")
	}
	if rec.Lineage != s.current.Lineage {
		return fmt.Errorf("state lineage mismatch: have %s, got %s", s.current.Lineage, rec.Lineage)
	}

	next := rec.Clone()
	next.Version = CurrentVersion
	next.Serial = s.current.Serial + 1
	now := time.Now().UTC()
	next.LastUpdated = &now

	if err := write(s.path, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// Close releases the lock.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	err := release(s.lockFile)
	s.lockFile = nil
	return err
}

func read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	return &rec, nil
}

// write replaces the state file atomically: temp file in the same
// directory, fsync, rename.
func write(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set state permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func acquire(path string) (*os.File, error) {
	lockPath := LockPath(path)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		holder := readHolder(f)
		_ = f.Close()
		if errors.Is(err, errLockHeld) {
			if holder != "" {
				return nil, fmt.Errorf("%w (%s, held by pid %s)", ErrLocked, lockPath, holder)
			}
			return nil, fmt.Errorf("%w (%s)", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return f, nil
}

func release(f *os.File) error {
	unlockErr := unlockFile(f)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock state: %w", unlockErr)
	}
	return closeErr
}

func readHolder(f *os.File) string {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	return strings.TrimSpace(string(buf[:n]))
}
