package sink

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// Deps are the shared resources sinks are built from. Redis and DB are only
// called when a sink of that type is configured.
type Deps struct {
	Opener      body.Opener
	RenderLimit int
	Fs          afero.Fs
	Log         *slog.Logger
	Redis       func() (ListClient, error)
	DB          func() (*gorm.DB, error)
}

// Build creates the configured sinks, in configuration order.
func Build(cfgs []config.SinkConfig, deps Deps) ([]Sink, error) {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	sinks := make([]Sink, 0, len(cfgs))
	for _, sc := range cfgs {
		s, err := build(sc, deps)
		if err != nil {
			Close(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func build(sc config.SinkConfig, deps Deps) (Sink, error) {
	name := sc.SinkName()
	switch sc.SinkType() {
	case "stdout", "log":
		var st logSettings
		if err := decodeSettings(sc, &st); err != nil {
			return nil, err
		}
		level := slog.LevelInfo
		if st.Level != "" {
			if err := level.UnmarshalText([]byte(st.Level)); err != nil {
				return nil, apperrors.Config("sink %q: bad level %q", name, st.Level)
			}
		}
		return NewLogSink(name, deps.Log, level, deps.Opener, deps.RenderLimit), nil

	case "file":
		var st fileSettings
		if err := decodeSettings(sc, &st); err != nil {
			return nil, err
		}
		return NewFileSink(name, deps.Fs, st.Dir, st.Prefix, deps.Opener, deps.RenderLimit)

	case "redis":
		var st redisSettings
		if err := decodeSettings(sc, &st); err != nil {
			return nil, err
		}
		if deps.Redis == nil {
			return nil, apperrors.Config("sink %q: redis is not configured", name)
		}
		client, err := deps.Redis()
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", name, err)
		}
		return NewRedisSink(name, client, st.Key, st.Max, deps.Opener, deps.RenderLimit), nil

	case "postgres":
		var st postgresSettings
		if err := decodeSettings(sc, &st); err != nil {
			return nil, err
		}
		if deps.DB == nil {
			return nil, apperrors.Config("sink %q: database is not configured", name)
		}
		db, err := deps.DB()
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", name, err)
		}
		migrate := st.AutoMigrate == nil || *st.AutoMigrate
		return NewPostgresSink(name, db, st.Table, migrate, deps.Opener, deps.RenderLimit)

	default:
		return nil, apperrors.Config("sink %q: unknown type %q", name, sc.Type)
	}
}

func decodeSettings(sc config.SinkConfig, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(sc.Settings); err != nil {
		msg := strings.ReplaceAll(err.Error(), "\n", " ")
		return apperrors.Config("sink %q: invalid settings: %s", sc.SinkName(), msg)
	}
	return nil
}

// Close closes every sink that holds resources.
func Close(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
