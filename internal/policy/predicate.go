package policy

import (
	"net"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
)

// Predicate decides whether a request belongs to a matcher.
type Predicate interface {
	Match(r *http.Request) (bool, error)
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(r *http.Request) (bool, error)

func (f PredicateFunc) Match(r *http.Request) (bool, error) {
	return f(r)
}

// PredicateEngine compiles the opaque predicate section of a matcher.
type PredicateEngine interface {
	Compile(def map[string]string) (Predicate, error)
}

// RouteEngine understands path, method, host, header and query conditions.
// All configured conditions must hold.
type RouteEngine struct{}

func (RouteEngine) Compile(def map[string]string) (Predicate, error) {
	if len(def) == 0 {
		return nil, apperrors.Config("predicate must not be empty")
	}

	keys := make([]string, 0, len(def))
	for k := range def {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]func(*http.Request) bool, 0, len(def))
	for _, key := range keys {
		raw := strings.TrimSpace(def[key])
		var cond func(*http.Request) bool
		var err error
		switch strings.ToLower(key) {
		case "path":
			cond, err = pathCondition(raw)
		case "method":
			cond, err = methodCondition(raw)
		case "host":
			cond, err = hostCondition(raw)
		case "header":
			cond, err = headerCondition(raw)
		case "query":
			cond, err = queryCondition(raw)
		default:
			err = apperrors.Config("unknown predicate key %q", key)
		}
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	return PredicateFunc(func(r *http.Request) (bool, error) {
		for _, cond := range conds {
			if !cond(r) {
				return false, nil
			}
		}
		return true, nil
	}), nil
}

func pathCondition(pattern string) (func(*http.Request) bool, error) {
	if pattern == "" || !strings.HasPrefix(pattern, "/") {
		return nil, apperrors.Config("path pattern %q must start with /", pattern)
	}
	segs := splitPath(pattern)
	for _, s := range segs {
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, apperrors.Config("invalid path pattern %q", pattern)
		}
	}
	return func(r *http.Request) bool {
		return matchSegments(segs, splitPath(r.URL.Path))
	}, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// matchSegments matches path segments where "**" spans any number of segments.
func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}

func methodCondition(raw string) (func(*http.Request) bool, error) {
	methods := make(map[string]struct{})
	for _, m := range strings.Split(raw, ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			methods[m] = struct{}{}
		}
	}
	if len(methods) == 0 {
		return nil, apperrors.Config("method predicate is empty")
	}
	return func(r *http.Request) bool {
		_, ok := methods[strings.ToUpper(r.Method)]
		return ok
	}, nil
}

func hostCondition(pattern string) (func(*http.Request) bool, error) {
	pattern = strings.ToLower(pattern)
	if _, err := path.Match(pattern, ""); err != nil || pattern == "" {
		return nil, apperrors.Config("invalid host pattern %q", pattern)
	}
	return func(r *http.Request) bool {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		ok, _ := path.Match(pattern, strings.ToLower(host))
		return ok
	}, nil
}

func headerCondition(raw string) (func(*http.Request) bool, error) {
	name, expr, hasValue := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Config("header predicate %q has no name", raw)
	}
	if !hasValue {
		return func(r *http.Request) bool {
			return len(r.Header.Values(name)) > 0
		}, nil
	}
	re, err := regexp.Compile("^(?:" + strings.TrimSpace(expr) + ")$")
	if err != nil {
		return nil, apperrors.Config("invalid header predicate regexp %q: %v", expr, err)
	}
	return func(r *http.Request) bool {
		for _, v := range r.Header.Values(name) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}, nil
}

func queryCondition(raw string) (func(*http.Request) bool, error) {
	key, value, hasValue := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.Config("query predicate %q has no key", raw)
	}
	return func(r *http.Request) bool {
		values, ok := r.URL.Query()[key]
		if !ok {
			return false
		}
		if !hasValue {
			return true
		}
		for _, v := range values {
			if v == value {
				return true
			}
		}
		return false
	}, nil
}
