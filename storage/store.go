// Package storage provides the durable backing store the virtual file system
// is saved to and restored from.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brettbedarf/simos/internal/util"
	"github.com/spf13/afero"
)

// ErrEmpty is returned by [Store.Read] when nothing has been saved yet
var ErrEmpty = errors.New("store is empty")

// Store is a single durable blob. Each call is an atomic scoped acquisition of
// the underlying storage: it is acquired, fully read or written, and released
// on every exit path.
type Store interface {
	// Read returns the full stored content or [ErrEmpty] when nothing was
	// saved yet
	Read() ([]byte, error)
	// Write replaces the stored content. Readers never observe a partial write
	Write(data []byte) error
	// Path identifies the store; its extension selects the snapshot encoding
	Path() string
	// Quarantine moves the stored content aside to a sibling location and
	// returns it, leaving the store empty. Fails with [ErrEmpty] when nothing
	// is stored.
	Quarantine() (string, error)
}

// FileStore implements [Store] as a single file on an [afero.Fs]
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex // serializes acquisitions of the file
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store at path on the given filesystem
func NewFileStore(fsys afero.Fs, path string) *FileStore {
	return &FileStore{fs: fsys, path: filepath.Clean(path), now: time.Now}
}

// NewOsFileStore creates a store backed by the host filesystem
func NewOsFileStore(path string) *FileStore {
	return NewFileStore(afero.NewOsFs(), path)
}

// NewMemFileStore creates a store backed by an in-memory filesystem
func NewMemFileStore(path string) *FileStore {
	return NewFileStore(afero.NewMemMapFs(), path)
}

func (s *FileStore) Path() string {
	return s.path
}

// Fs exposes the underlying filesystem, mainly for tests
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

func (s *FileStore) Read() (data []byte, err error) {
	logger := util.GetLogger("FileStore.Read")

	sess := s.acquire()
	defer sess.Close()

	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	sess.AddClose(func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn().Err(cerr).Str("path", s.path).Msg("Failed to close store file")
		}
	})

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	logger.Trace().Str("path", s.path).Int("bytes", len(data)).Msg("Read store")
	return data, nil
}

// Write stages data in a temp file next to the target and renames it into
// place so a failed write leaves the previous content intact.
func (s *FileStore) Write(data []byte) error {
	logger := util.GetLogger("FileStore.Write")

	sess := s.acquire()
	defer sess.Close()

	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	sess.AddClose(func() {
		if !committed {
			_ = s.fs.Remove(tmpName)
		}
	})

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	committed = true
	if err := s.fs.Chmod(s.path, os.FileMode(0o644)); err != nil {
		logger.Debug().Err(err).Str("path", s.path).Msg("Failed to chmod store file")
	}

	logger.Trace().Str("path", s.path).Int("bytes", len(data)).Msg("Wrote store")
	return nil
}

// Quarantine renames the store file to <path>.corrupt-<UTC time>, adding a
// counter when that name is taken
func (s *FileStore) Quarantine() (string, error) {
	logger := util.GetLogger("FileStore.Quarantine")

	sess := s.acquire()
	defer sess.Close()

	if _, err := s.fs.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("stat %s: %w", s.path, err)
	}

	base := s.path + ".corrupt-" + s.now().UTC().Format("20060102T150405Z")
	target := base
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, target)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", target, err)
		}
		if !exists {
			break
		}
		target = fmt.Sprintf("%s-%d", base, i)
	}
	if err := s.fs.Rename(s.path, target); err != nil {
		return "", fmt.Errorf("move %s aside: %w", s.path, err)
	}
	logger.Info().Str("path", s.path).Str("target", target).Msg("Moved store aside")
	return target, nil
}

func (s *FileStore) acquire() *session {
	s.mu.Lock()
	sess := &session{}
	sess.AddClose(s.mu.Unlock)
	return sess
}
