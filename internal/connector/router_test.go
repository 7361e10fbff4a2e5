package connector

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/types"
)

func newRouter(t *testing.T, routes ...config.Route) *Router {
	t.Helper()
	router, err := NewRouter(routes)
	require.NoError(t, err)
	return router
}

func request(host, path string) *http.Request {
	return &http.Request{URL: &url.URL{Path: path}, Host: host}
}

func TestRouterMatchLongestPrefix(t *testing.T) {
	router := newRouter(t,
		config.Route{Match: config.RouteMatch{PathPrefix: "/api"}, Upstream: "api"},
		config.Route{Match: config.RouteMatch{PathPrefix: "/api/v1"}, Upstream: "v1"},
	)

	route, ok := router.Match(request("example.com", "/api/v1/users"))
	require.True(t, ok)
	assert.Equal(t, "/api/v1", route.PathPrefix)
	assert.Equal(t, "v1", route.Upstream)
	assert.Equal(t, "route-1", route.ID)
}

func TestRouterHostSpecificity(t *testing.T) {
	router := newRouter(t,
		config.Route{Match: config.RouteMatch{PathPrefix: "/api"}, Upstream: "any"},
		config.Route{Match: config.RouteMatch{Host: "*.Example.com", PathPrefix: "/"}, Upstream: "wildcard"},
		config.Route{Match: config.RouteMatch{Host: "api.example.com", PathPrefix: "/"}, Upstream: "exact"},
	)

	tests := []struct {
		host, path string
		want       string
	}{
		{host: "api.example.com:8443", path: "/api/users", want: "exact"},
		{host: "API.example.com.", path: "/", want: "exact"},
		{host: "shop.example.com", path: "/api/users", want: "wildcard"},
		{host: "example.com", path: "/api/users", want: "any"},
		{host: "other.test", path: "/api", want: "any"},
	}
	for _, tt := range tests {
		t.Run(tt.host+tt.path, func(t *testing.T) {
			route, ok := router.Match(request(tt.host, tt.path))
			require.True(t, ok)
			assert.Equal(t, tt.want, route.Upstream)
		})
	}

	_, ok := router.Match(request("example.com", "/"))
	assert.False(t, ok, "a wildcard does not match the bare domain")
}

func TestRouterNoMatch(t *testing.T) {
	router := newRouter(t, config.Route{Match: config.RouteMatch{PathPrefix: "/api"}})

	_, ok := router.Match(request("", "/static"))
	assert.False(t, ok)
	_, ok = router.Match(nil)
	assert.False(t, ok)
}

func TestRouterOverrides(t *testing.T) {
	router := newRouter(t,
		config.Route{Match: config.RouteMatch{PathPrefix: "/reports"}, Mode: "detectiononly", RequestBodyLimit: 128},
		config.Route{Match: config.RouteMatch{PathPrefix: "/"}},
	)

	route, ok := router.Match(request("example.com", "/reports"))
	require.True(t, ok)
	assert.True(t, route.HasMode)
	assert.Equal(t, types.RuleEngineDetectionOnly, route.Mode)

	tx := &overrideRecorder{}
	require.NoError(t, route.apply(tx))
	assert.Equal(t, types.RuleEngineDetectionOnly, tx.mode)
	assert.Equal(t, 128, tx.limit)

	route, ok = router.Match(request("example.com", "/"))
	require.True(t, ok)
	assert.False(t, route.HasMode)
	tx = &overrideRecorder{}
	require.NoError(t, route.apply(tx))
	assert.False(t, tx.called)

	_, err := NewRouter([]config.Route{{Match: config.RouteMatch{PathPrefix: "/"}, Mode: "sometimes"}})
	assert.Error(t, err)
}

type overrideRecorder struct {
	called bool
	mode   types.RuleEngineMode
	limit  int
}

func (o *overrideRecorder) SetMode(mode types.RuleEngineMode) error {
	o.called, o.mode = true, mode
	return nil
}

func (o *overrideRecorder) SetRequestBodyLimit(limit int) error {
	o.called, o.limit = true, limit
	return nil
}
