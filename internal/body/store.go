package body

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/spf13/afero"
)

// Store persists bodies that outgrew the in-memory threshold. Handles it
// finalizes stay owned by the store until Remove or Reclaim deletes them.
type Store interface {
	Allocate(dir Direction, requestID string) (*Allocation, error)
	WriteChunk(a *Allocation, p []byte) error
	Finalize(a *Allocation, encoding string, partial bool) (*Handle, error)
	Discard(a *Allocation) error
	OpenRead(h *Handle) (io.ReadCloser, error)
	Remove(h *Handle) error
	Reclaim(olderThan time.Duration) (int, error)
}

// Allocation is a body file being written.
type Allocation struct {
	path string
	file afero.File
	size int64
}

func (a *Allocation) Path() string { return a.path }
func (a *Allocation) Size() int64  { return a.size }

// FileStore keeps bodies as files under dir on an afero filesystem.
type FileStore struct {
	fs  afero.Fs
	dir string
	seq atomic.Uint64
}

// NewFileStore prepares dir on fs.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if dir == "" {
		dir = "captures"
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.CaptureIO("failed to create capture dir", err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// NewOSFileStore is a FileStore on the local disk.
func NewOSFileStore(dir string) (*FileStore, error) {
	return NewFileStore(afero.NewOsFs(), dir)
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Allocate(dir Direction, requestID string) (*Allocation, error) {
	name := fmt.Sprintf("%s-%s-%d.body", sanitize(requestID), dir, s.seq.Add(1))
	path := filepath.Join(s.dir, time.Now().UTC().Format("2006-01-02"), name)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.CaptureIO("failed to create capture dir", err)
	}
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, apperrors.CaptureIO("failed to allocate body file", err)
	}
	return &Allocation{path: path, file: f}, nil
}

func (s *FileStore) WriteChunk(a *Allocation, p []byte) error {
	if a == nil || a.file == nil {
		return apperrors.CaptureIO("write to closed allocation", nil)
	}
	n, err := a.file.Write(p)
	a.size += int64(n)
	if err != nil {
		return apperrors.CaptureIO("failed to write body chunk", err)
	}
	return nil
}

func (s *FileStore) Finalize(a *Allocation, encoding string, partial bool) (*Handle, error) {
	if a == nil || a.file == nil {
		return nil, apperrors.CaptureIO("finalize of closed allocation", nil)
	}
	err := a.file.Close()
	a.file = nil
	if err != nil {
		_ = s.fs.Remove(a.path)
		return nil, apperrors.CaptureIO("failed to close body file", err)
	}
	return &Handle{
		Path:            a.path,
		ContentEncoding: NormalizeEncoding(encoding),
		Size:            a.size,
		Partial:         partial,
	}, nil
}

func (s *FileStore) Discard(a *Allocation) error {
	if a == nil {
		return nil
	}
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	if err := s.fs.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return apperrors.CaptureIO("failed to discard body file", err)
	}
	return nil
}

// OpenRead streams the raw file behind h.
func (s *FileStore) OpenRead(h *Handle) (io.ReadCloser, error) {
	if !h.OnDisk() {
		return nil, apperrors.CaptureIO("handle is not disk backed", nil)
	}
	f, err := s.fs.Open(h.Path)
	if err != nil {
		return nil, apperrors.CaptureIO("failed to open body file", err)
	}
	return f, nil
}

func (s *FileStore) Remove(h *Handle) error {
	if !h.OnDisk() {
		return nil
	}
	if err := s.fs.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return apperrors.CaptureIO("failed to remove body file", err)
	}
	return nil
}

// Reclaim deletes body files last modified before now-olderThan and returns how many went.
func (s *FileStore) Reclaim(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	err := afero.Walk(s.fs, s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(path, ".body") {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := s.fs.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, apperrors.CaptureIO("failed to walk capture dir", err)
	}
	return removed, nil
}

func sanitize(id string) string {
	if id == "" {
		return "anon"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
