package policy

import (
	"net/http"
	"strings"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
)

// Action is what happens to a header in the log record.
type Action int

const (
	ActionNone Action = iota
	ActionRedact
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionRedact:
		return "REDACT"
	case ActionDelete:
		return "DELETE"
	default:
		return "NONE"
	}
}

// HeaderPolicy decides per header name whether it is kept, redacted or dropped.
// A non-empty include set acts as a whitelist; otherwise the exclude set is a blacklist.
type HeaderPolicy struct {
	includes map[string]Action
	excludes map[string]Action
}

var keepAll = &HeaderPolicy{}

// KeepAll is the policy with neither includes nor excludes.
func KeepAll() *HeaderPolicy {
	return keepAll
}

// NewHeaderPolicy parses include and exclude entries of the form "Name", "Name,r" or "Name,d".
func NewHeaderPolicy(includes, excludes []string) (*HeaderPolicy, error) {
	inc, err := parseHeaderEntries(includes, ActionNone)
	if err != nil {
		return nil, err
	}
	exc, err := parseHeaderEntries(excludes, ActionDelete)
	if err != nil {
		return nil, err
	}
	for name := range inc {
		if _, ok := exc[name]; ok {
			return nil, apperrors.Config("header %q appears in both includes and excludes", name)
		}
	}
	if len(inc) == 0 && len(exc) == 0 {
		return keepAll, nil
	}
	return &HeaderPolicy{includes: inc, excludes: exc}, nil
}

func parseHeaderEntries(entries []string, def Action) (map[string]Action, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]Action, len(entries))
	for _, entry := range entries {
		name, marker, hasMarker := strings.Cut(entry, ",")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, apperrors.Config("empty header name in entry %q", entry)
		}
		action := def
		if hasMarker {
			switch strings.ToLower(strings.TrimSpace(marker)) {
			case "r":
				action = ActionRedact
			case "d":
				action = ActionDelete
			default:
				return nil, apperrors.Config("unknown marker %q on header %q", marker, name)
			}
		}
		out[name] = action
	}
	return out, nil
}

// Decide returns the disclosure action for a header name, case-insensitively.
func (p *HeaderPolicy) Decide(name string) Action {
	if p == nil {
		return ActionNone
	}
	key := strings.ToLower(name)
	if len(p.includes) > 0 {
		if action, ok := p.includes[key]; ok {
			return action
		}
		return ActionDelete
	}
	if action, ok := p.excludes[key]; ok {
		return action
	}
	return ActionNone
}

// Filter applies the policy to h and returns a new map; h is not modified.
// Redacted values keep `visible` characters on each side.
func (p *HeaderPolicy) Filter(h http.Header, visible int) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		switch p.Decide(name) {
		case ActionDelete:
			continue
		case ActionRedact:
			masked := make([]string, len(values))
			for i, v := range values {
				masked[i] = RedactString(v, visible)
			}
			out[name] = masked
		default:
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
