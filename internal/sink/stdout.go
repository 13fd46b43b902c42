package sink

import (
	"context"
	"log/slog"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
)

// LogSink writes each record as one structured log line.
type LogSink struct {
	name   string
	log    *slog.Logger
	level  slog.Level
	opener body.Opener
	limit  int
}

type logSettings struct {
	Level string `mapstructure:"level"`
}

func NewLogSink(name string, log *slog.Logger, level slog.Level, opener body.Opener, limit int) *LogSink {
	if log == nil {
		log = logger.Component("access_log")
	}
	return &LogSink{name: name, log: log, level: level, opener: opener, limit: limit}
}

func (s *LogSink) LogAccess(ctx context.Context, rec *model.LogRecord) error {
	entry := Render(ctx, rec, s.opener, s.limit)
	s.log.Log(ctx, s.level, "access", "entry", entry)
	return nil
}

func (s *LogSink) Describe() string {
	return "stdout:" + s.name
}
