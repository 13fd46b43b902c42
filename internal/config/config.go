package config

import (
	"errors"
	"strings"

	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const DefaultMemoryThreshold = 1 << 20

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Upstream UpstreamConfig  `mapstructure:"upstream"`
	Breaker  BreakerConfig   `mapstructure:"breaker"`
	Capture  CaptureConfig   `mapstructure:"capture"`
	Delivery DeliveryConfig  `mapstructure:"delivery"`
	Matchers []MatcherConfig `mapstructure:"matchers"`
	Sinks    []SinkConfig    `mapstructure:"sinks"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Database DatabaseConfig  `mapstructure:"database"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Auth     AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type UpstreamConfig struct {
	URL            string  `mapstructure:"url"`
	TimeoutMs      int     `mapstructure:"timeout_ms"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`   // 0 disables throttling
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"` // consecutive failures before opening, 0 disables
	OpenSeconds      int `mapstructure:"open_seconds"`
}

type CaptureConfig struct {
	MemoryThreshold int64              `mapstructure:"memory_threshold"`
	Dir             string             `mapstructure:"dir"`
	Workers         int                `mapstructure:"workers"`
	QueueSize       int                `mapstructure:"queue_size"`
	RedactVisible   int                `mapstructure:"redact_visible"`
	RenderLimit     int                `mapstructure:"render_limit"`
	RetentionHours  int                `mapstructure:"retention_hours"`
	ReclaimSchedule string             `mapstructure:"reclaim_schedule"`
	Headers         HeaderFilterConfig `mapstructure:"headers"`
}

type DeliveryConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	SinkTimeoutMs int `mapstructure:"sink_timeout_ms"`
	RecentMax     int `mapstructure:"recent_max"`
}

// HeaderFilterConfig entries are header names with an optional ",r" or ",d" marker.
type HeaderFilterConfig struct {
	Includes []string `mapstructure:"includes"`
	Excludes []string `mapstructure:"excludes"`
}

func (h HeaderFilterConfig) IsEmpty() bool {
	return len(h.Includes) == 0 && len(h.Excludes) == 0
}

type DirectionConfig struct {
	Headers HeaderFilterConfig `mapstructure:"headers"`
	Raw     string             `mapstructure:"raw"`
	Body    string             `mapstructure:"body"`
}

type MatcherConfig struct {
	ID        string            `mapstructure:"id"`
	Predicate map[string]string `mapstructure:"predicate"`
	Request   DirectionConfig   `mapstructure:"request"`
	Response  DirectionConfig   `mapstructure:"response"`
}

type SinkConfig struct {
	Name     string         `mapstructure:"name"`
	Type     string         `mapstructure:"type"`
	Settings map[string]any `mapstructure:"settings"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

// Loader reads the configuration through its own viper instance so it can be watched.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty path searches config.yaml in . and ./configs.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// e.g. CAPTUREGATE_UPSTREAM_URL
	v.SetEnvPrefix("capturegate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("upstream.url", "http://localhost:9000")
	v.SetDefault("upstream.timeout_ms", 30000)
	v.SetDefault("upstream.rate_limit_burst", 1)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_seconds", 30)
	v.SetDefault("capture.memory_threshold", DefaultMemoryThreshold)
	v.SetDefault("capture.dir", "./captures")
	v.SetDefault("capture.workers", 4)
	v.SetDefault("capture.queue_size", 1024)
	v.SetDefault("capture.redact_visible", 4)
	v.SetDefault("capture.render_limit", 64*1024)
	v.SetDefault("capture.retention_hours", 24)
	v.SetDefault("capture.reclaim_schedule", "@every 10m")
	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.queue_size", 1000)
	v.SetDefault("delivery.sink_timeout_ms", 5000)
	v.SetDefault("delivery.recent_max", 1000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Warn("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file on every change and hands the result to fn. A reload
// that fails validation is reported with a nil config.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", "file", e.Name, "op", e.Op.String())
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			fn(nil, err)
			return
		}
		if err := cfg.Validate(); err != nil {
			fn(nil, err)
			return
		}
		fn(&cfg, nil)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
