package config

import (
	"strings"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
)

// Validate performs the structural checks that do not need the predicate engine.
// Predicates and header markers are compiled by policy.Build.
func (c *Config) Validate() error {
	if c.Capture.MemoryThreshold < 0 {
		return apperrors.Config("capture.memory_threshold must not be negative")
	}
	if c.Capture.RedactVisible < 0 {
		return apperrors.Config("capture.redact_visible must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Matchers))
	for i, m := range c.Matchers {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return apperrors.Config("matchers[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return apperrors.Config("matchers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if len(m.Predicate) == 0 {
			return apperrors.Config("matcher %q: predicate must not be empty", id)
		}
	}

	sinkNames := make(map[string]struct{}, len(c.Sinks))
	for i, s := range c.Sinks {
		name := s.SinkName()
		if name == "" {
			return apperrors.Config("sinks[%d]: name or type is required", i)
		}
		if _, dup := sinkNames[name]; dup {
			return apperrors.Config("sinks[%d]: duplicate sink name %q", i, name)
		}
		sinkNames[name] = struct{}{}
	}
	return nil
}

// SinkName falls back to the sink type when no explicit name is configured.
func (s SinkConfig) SinkName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return strings.TrimSpace(s.Type)
}

// SinkType falls back to the name, so `- name: stdout` is enough for built-in sinks.
func (s SinkConfig) SinkType() string {
	if t := strings.TrimSpace(s.Type); t != "" {
		return strings.ToLower(t)
	}
	return strings.ToLower(strings.TrimSpace(s.Name))
}
