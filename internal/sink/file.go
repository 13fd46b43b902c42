package sink

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/spf13/afero"
)

// FileSink appends JSON lines to a file per day, <dir>/<prefix>-YYYY-MM-DD.jsonl.
type FileSink struct {
	name   string
	fs     afero.Fs
	dir    string
	prefix string
	opener body.Opener
	limit  int
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file afero.File
}

type fileSettings struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

func NewFileSink(name string, fs afero.Fs, dir, prefix string, opener body.Opener, limit int) (*FileSink, error) {
	if dir == "" {
		dir = "./logs"
	}
	if prefix == "" {
		prefix = "access"
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.New(apperrors.ErrSink, "failed to create log dir", err)
	}
	return &FileSink{
		name:   name,
		fs:     fs,
		dir:    dir,
		prefix: prefix,
		opener: opener,
		limit:  limit,
		now:    time.Now,
	}, nil
}

func (s *FileSink) LogAccess(ctx context.Context, rec *model.LogRecord) error {
	line, err := RenderJSON(ctx, rec, s.opener, s.limit)
	if err != nil {
		return apperrors.New(apperrors.ErrSink, "failed to encode entry", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.current()
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return apperrors.New(apperrors.ErrSink, "failed to append entry", err)
	}
	return nil
}

// current returns today's file, rotating when the date changed.
func (s *FileSink) current() (afero.File, error) {
	day := s.now().Format("2006-01-02")
	if s.file != nil && s.day == day {
		return s.file, nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	path := filepath.Join(s.dir, s.prefix+"-"+day+".jsonl")
	f, err := s.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrSink, "failed to open log file", err)
	}
	s.file = f
	s.day = day
	return f, nil
}

func (s *FileSink) Describe() string {
	return "file:" + s.name
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
