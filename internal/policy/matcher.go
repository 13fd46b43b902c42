package policy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
)

// Matcher pairs a request predicate with directional capture policies.
type Matcher struct {
	ID        string
	Predicate Predicate
	Policy    CapturePolicy
}

// Resolved is the outcome of policy resolution for one request.
// MatcherID is empty when the default policy applies.
type Resolved struct {
	MatcherID string
	Policy    CapturePolicy
}

// IsDefault reports whether no matcher applied.
func (r Resolved) IsDefault() bool {
	return r.MatcherID == ""
}

// Snapshot is an immutable, ordered matcher set plus the settings the
// capture path needs. It is shared read-only by all requests.
type Snapshot struct {
	matchers      []*Matcher
	fallback      Resolved
	redactVisible int
}

// NewSnapshot builds a snapshot from already compiled matchers.
func NewSnapshot(matchers []*Matcher, redactVisible int) (*Snapshot, error) {
	seen := make(map[string]struct{}, len(matchers))
	for _, m := range matchers {
		if m == nil || strings.TrimSpace(m.ID) == "" {
			return nil, apperrors.Config("matcher id is required")
		}
		if _, dup := seen[m.ID]; dup {
			return nil, apperrors.Config("duplicate matcher id %q", m.ID)
		}
		if m.Predicate == nil {
			return nil, apperrors.Config("matcher %q has no predicate", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return &Snapshot{
		matchers:      append([]*Matcher(nil), matchers...),
		fallback:      Resolved{Policy: DefaultPolicy()},
		redactVisible: redactVisible,
	}, nil
}

// Build compiles the matcher section of cfg. Every configuration problem is
// reported here so that startup or a reload can be rejected as a whole.
func Build(cfg *config.Config, engine PredicateEngine) (*Snapshot, error) {
	if engine == nil {
		engine = RouteEngine{}
	}
	defaults := cfg.Capture.Headers
	defaultHeaders, err := NewHeaderPolicy(defaults.Includes, defaults.Excludes)
	if err != nil {
		return nil, fmt.Errorf("capture.headers: %w", err)
	}

	matchers := make([]*Matcher, 0, len(cfg.Matchers))
	for i, mc := range cfg.Matchers {
		if len(mc.Predicate) == 0 {
			return nil, apperrors.Config("matchers[%d] %q: predicate must not be empty", i, mc.ID)
		}
		pred, err := engine.Compile(mc.Predicate)
		if err != nil {
			return nil, fmt.Errorf("matcher %q: %w", mc.ID, err)
		}
		req, err := buildDirection(mc.Request, defaults)
		if err != nil {
			return nil, fmt.Errorf("matcher %q request: %w", mc.ID, err)
		}
		resp, err := buildDirection(mc.Response, defaults)
		if err != nil {
			return nil, fmt.Errorf("matcher %q response: %w", mc.ID, err)
		}
		matchers = append(matchers, &Matcher{
			ID:        strings.TrimSpace(mc.ID),
			Predicate: pred,
			Policy:    CapturePolicy{Request: req, Response: resp},
		})
	}

	snap, err := NewSnapshot(matchers, cfg.Capture.RedactVisible)
	if err != nil {
		return nil, err
	}
	// unmatched requests still get the global header filter
	snap.fallback.Policy.Request.Headers = defaultHeaders
	snap.fallback.Policy.Response.Headers = defaultHeaders
	return snap, nil
}

func buildDirection(dc config.DirectionConfig, defaults config.HeaderFilterConfig) (DirectionalPolicy, error) {
	headers := dc.Headers
	if headers.IsEmpty() {
		headers = defaults
	}
	hp, err := NewHeaderPolicy(headers.Includes, headers.Excludes)
	if err != nil {
		return DirectionalPolicy{}, err
	}
	raw, err := ParseCaptureLevel(dc.Raw)
	if err != nil {
		return DirectionalPolicy{}, err
	}
	body, err := ParseCaptureLevel(dc.Body)
	if err != nil {
		return DirectionalPolicy{}, err
	}
	return DirectionalPolicy{Headers: hp, Raw: raw, Body: body}, nil
}

// Resolve returns the first matcher whose predicate holds, or the default policy.
// Predicate errors count as "no match".
func (s *Snapshot) Resolve(r *http.Request) Resolved {
	if s == nil {
		return Resolved{Policy: DefaultPolicy()}
	}
	for _, m := range s.matchers {
		ok, err := m.Predicate.Match(r)
		if err != nil {
			logger.Debug("Predicate evaluation failed, treating as no match", "matcher", m.ID, "error", err)
			continue
		}
		if ok {
			return Resolved{MatcherID: m.ID, Policy: m.Policy}
		}
	}
	return s.fallback
}

// RedactVisible is the number of characters kept on each side of redacted values.
func (s *Snapshot) RedactVisible() int {
	if s == nil {
		return DefaultRedactVisible
	}
	return s.redactVisible
}

// Matchers returns the matcher ids in evaluation order.
func (s *Snapshot) Matchers() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.matchers))
	for i, m := range s.matchers {
		ids[i] = m.ID
	}
	return ids
}
