package connector

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/types"
)

type hostKind uint8

const (
	hostExact hostKind = iota
	hostWildcard
	hostAny
)

// Route is a compiled routing entry together with the engine overrides its
// transactions run with.
type Route struct {
	ID         string
	Host       string
	PathPrefix string
	Upstream   string

	// Mode is applied only when HasMode is set.
	Mode             types.RuleEngineMode
	HasMode          bool
	RequestBodyLimit int

	kind   hostKind
	suffix string
}

func (r Route) matchesHost(host string) bool {
	switch r.kind {
	case hostExact:
		return r.Host == host
	case hostWildcard:
		return strings.HasSuffix(host, r.suffix) && len(host) > len(r.suffix)
	default:
		return true
	}
}

// apply carries the route overrides into a transaction before phase 1.
func (r Route) apply(tx txOverrides) error {
	if r.HasMode {
		if err := tx.SetMode(r.Mode); err != nil {
			return err
		}
	}
	if r.RequestBodyLimit > 0 {
		return tx.SetRequestBodyLimit(r.RequestBodyLimit)
	}
	return nil
}

type txOverrides interface {
	SetMode(types.RuleEngineMode) error
	SetRequestBodyLimit(int) error
}

// Router picks a route by host specificity first (exact, then wildcard, then
// any host) and by longest path prefix second.
type Router struct {
	routes []Route
}

func NewRouter(routes []config.Route) (*Router, error) {
	out := make([]Route, 0, len(routes))
	for i, raw := range routes {
		route := Route{
			ID:               fmt.Sprintf("route-%d", i),
			Host:             strings.ToLower(strings.TrimSpace(raw.Match.Host)),
			PathPrefix:       raw.Match.PathPrefix,
			Upstream:         raw.Upstream,
			RequestBodyLimit: raw.RequestBodyLimit,
		}
		switch {
		case route.Host == "":
			route.kind = hostAny
		case strings.HasPrefix(route.Host, "*."):
			route.kind = hostWildcard
			route.suffix = route.Host[1:]
		}
		if raw.Mode != "" {
			mode, err := types.ParseRuleEngineMode(raw.Mode)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", route.ID, err)
			}
			route.Mode, route.HasMode = mode, true
		}
		out = append(out, route)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return len(out[i].PathPrefix) > len(out[j].PathPrefix)
	})
	return &Router{routes: out}, nil
}

func (r *Router) Match(req *http.Request) (Route, bool) {
	if r == nil || req == nil || req.URL == nil {
		return Route{}, false
	}
	host := strings.ToLower(strings.TrimSuffix(hostOnly(req.Host), "."))
	for _, route := range r.routes {
		if route.matchesHost(host) && strings.HasPrefix(req.URL.Path, route.PathPrefix) {
			return route, true
		}
	}
	return Route{}, false
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
