package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(ok bool, err error) Predicate {
	return PredicateFunc(func(*http.Request) (bool, error) { return ok, err })
}

func TestResolveFirstMatchWins(t *testing.T) {
	store := CapturePolicy{Request: DirectionalPolicy{Body: LevelStore}}
	snap, err := NewSnapshot([]*Matcher{
		{ID: "m1", Predicate: fixed(false, nil)},
		{ID: "m2", Predicate: fixed(true, nil), Policy: store},
		{ID: "m3", Predicate: fixed(true, nil)},
	}, DefaultRedactVisible)
	require.NoError(t, err)

	got := snap.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "m2", got.MatcherID)
	assert.Equal(t, LevelStore, got.Policy.Request.Body)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	snap, err := NewSnapshot([]*Matcher{
		{ID: "m1", Predicate: fixed(false, nil)},
		{ID: "broken", Predicate: fixed(true, errors.New("engine down"))},
	}, DefaultRedactVisible)
	require.NoError(t, err)

	got := snap.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, got.IsDefault())
	assert.Equal(t, LevelNone, got.Policy.Request.Raw)
	assert.Equal(t, LevelNone, got.Policy.Request.Body)
	assert.False(t, got.Policy.Response.MustBuffer())
	assert.Equal(t, ActionNone, got.Policy.Request.HeaderPolicy().Decide("Authorization"))
}

func TestNewSnapshotRejectsDuplicates(t *testing.T) {
	_, err := NewSnapshot([]*Matcher{
		{ID: "a", Predicate: fixed(true, nil)},
		{ID: "a", Predicate: fixed(true, nil)},
	}, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestBuildFromConfig(t *testing.T) {
	cfg := &config.Config{
		Capture: config.CaptureConfig{
			RedactVisible: 3,
			Headers:       config.HeaderFilterConfig{Excludes: []string{"Cookie"}},
		},
		Matchers: []config.MatcherConfig{
			{
				ID:        "orders",
				Predicate: map[string]string{"path": "/v1/orders/**", "method": "post,put"},
				Request:   config.DirectionConfig{Body: "store", Headers: config.HeaderFilterConfig{Includes: []string{"Content-Type"}}},
				Response:  config.DirectionConfig{Body: "size", Raw: "store"},
			},
			{
				ID:        "everything",
				Predicate: map[string]string{"path": "/**"},
			},
		},
	}
	snap, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "everything"}, snap.Matchers())
	assert.Equal(t, 3, snap.RedactVisible())

	got := snap.Resolve(httptest.NewRequest(http.MethodPost, "/v1/orders/42/fills", nil))
	assert.Equal(t, "orders", got.MatcherID)
	assert.Equal(t, LevelStore, got.Policy.Request.Body)
	assert.Equal(t, ActionDelete, got.Policy.Request.HeaderPolicy().Decide("Accept"))
	assert.Equal(t, LevelSize, got.Policy.Response.Body)
	assert.Equal(t, LevelStore, got.Policy.Response.Raw)
	// response has no header section: global defaults apply
	assert.Equal(t, ActionDelete, got.Policy.Response.HeaderPolicy().Decide("cookie"))
	assert.Equal(t, ActionNone, got.Policy.Response.HeaderPolicy().Decide("Accept"))

	got = snap.Resolve(httptest.NewRequest(http.MethodGet, "/v1/orders/42", nil))
	assert.Equal(t, "everything", got.MatcherID)
}

func TestBuildRejectsInvalidMatchers(t *testing.T) {
	cases := map[string]config.MatcherConfig{
		"empty predicate": {ID: "a"},
		"unknown key":     {ID: "a", Predicate: map[string]string{"cookie": "x"}},
		"bad level":       {ID: "a", Predicate: map[string]string{"path": "/"}, Request: config.DirectionConfig{Body: "ALL"}},
		"bad marker":      {ID: "a", Predicate: map[string]string{"path": "/"}, Response: config.DirectionConfig{Headers: config.HeaderFilterConfig{Excludes: []string{"Cookie,z"}}}},
		"bad regexp":      {ID: "a", Predicate: map[string]string{"header": "X-Env=(prod"}},
		"both sets": {ID: "a", Predicate: map[string]string{"path": "/"}, Request: config.DirectionConfig{Headers: config.HeaderFilterConfig{
			Includes: []string{"Cookie"}, Excludes: []string{"cookie"},
		}}},
	}
	for name, mc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(&config.Config{Matchers: []config.MatcherConfig{mc}}, nil)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
		})
	}
}

func TestRouteEngineConditions(t *testing.T) {
	pred, err := RouteEngine{}.Compile(map[string]string{
		"path":   "/api/*/items",
		"host":   "*.example.com",
		"header": "X-Env=prod|staging",
		"query":  "debug",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com:8443/api/v2/items?debug=1", nil)
	req.Header.Set("X-Env", "staging")
	ok, err := pred.Match(req)
	require.NoError(t, err)
	assert.True(t, ok)

	req.Header.Set("X-Env", "dev")
	ok, _ = pred.Match(req)
	assert.False(t, ok)

	other := httptest.NewRequest(http.MethodGet, "http://api.example.com/api/v2/extra/items?debug=1", nil)
	other.Header.Set("X-Env", "prod")
	ok, _ = pred.Match(other)
	assert.False(t, ok, "single star spans one segment")
}

func TestPathDoubleStar(t *testing.T) {
	cases := map[string]bool{
		"/v1":         true,
		"/v1/a":       true,
		"/v1/a/b/c":   true,
		"/v2/a":       false,
		"/":           false,
		"/v1x/orders": false,
	}
	cond, err := pathCondition("/v1/**")
	require.NoError(t, err)
	for p, want := range cases {
		assert.Equal(t, want, cond(httptest.NewRequest(http.MethodGet, p, nil)), p)
	}
}

func TestStoreSwapAndContext(t *testing.T) {
	first, _ := NewSnapshot(nil, 1)
	second, _ := NewSnapshot([]*Matcher{{ID: "x", Predicate: fixed(true, nil)}}, 1)

	store := NewStore(first)
	assert.Same(t, first, store.Load())
	assert.Same(t, first, store.Swap(second))
	assert.Equal(t, []string{"x"}, store.Load().Matchers())

	ctx := WithResolved(context.Background(), Resolved{MatcherID: "x"})
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", got.MatcherID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
