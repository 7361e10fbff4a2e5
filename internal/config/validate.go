package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/ratelimit"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/waf"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

// Validate checks the document shape. Rule compilation problems are
// reported separately by BuildRuleSet.
func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
			v.Add("server.tls.certFile invalid: %v", err)
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
			v.Add("server.tls.keyFile invalid: %v", err)
		}
	}

	if rl := c.Server.RateLimit; rl.Enabled {
		if rl.RPS <= 0 {
			v.Add("server.rateLimit.rps must be > 0")
		}
		if rl.Burst <= 0 {
			v.Add("server.rateLimit.burst must be > 0")
		}
		if _, err := ratelimit.ParseKeyType(rl.Key); err != nil {
			v.Add("server.rateLimit.key must be ip|ip_path")
		}
		if rl.StatusCode != 0 && (rl.StatusCode < 400 || rl.StatusCode > 599) {
			v.Add("server.rateLimit.statusCode must be a 4xx or 5xx status")
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		v.Add("logging.level invalid: %v", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		v.Add("logging.format must be text|json")
	}

	c.validateEngine(v)

	upstreamNames := map[string]struct{}{}
	for i, upstream := range c.Upstreams {
		if upstream.Name == "" {
			v.Add("upstreams[%d].name is required", i)
		} else if _, exists := upstreamNames[upstream.Name]; exists {
			v.Add("upstreams[%d].name %q is duplicated", i, upstream.Name)
		} else {
			upstreamNames[upstream.Name] = struct{}{}
		}

		if upstream.URL == "" {
			v.Add("upstreams[%d].url is required", i)
		} else if err := validateURL(upstream.URL); err != nil {
			v.Add("upstreams[%d].url invalid: %v", i, err)
		}
	}

	for i, route := range c.Routes {
		if route.Match.PathPrefix == "" {
			v.Add("routes[%d].match.pathPrefix is required", i)
		}
		if route.Upstream == "" {
			v.Add("routes[%d].upstream is required", i)
		} else if _, exists := upstreamNames[route.Upstream]; !exists {
			v.Add("routes[%d].upstream %q does not exist", i, route.Upstream)
		}
		if host := route.Match.Host; strings.Contains(host, "*") && (!strings.HasPrefix(host, "*.") || strings.Count(host, "*") > 1) {
			v.Add("routes[%d].match.host wildcard must be a leading \"*.\"", i)
		}
		if route.Mode != "" {
			if _, err := types.ParseRuleEngineMode(route.Mode); err != nil {
				v.Add("routes[%d].mode must be On|DetectionOnly|Off", i)
			}
		}
		if route.RequestBodyLimit < 0 {
			v.Add("routes[%d].requestBodyLimit must be >= 0", i)
		}
	}

	for i, rule := range c.Rules {
		c.validateRule(v, fmt.Sprintf("rules[%d]", i), rule, true)
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateEngine(v *ValidationError) {
	e := c.Engine
	if _, err := types.ParseRuleEngineMode(e.Mode); err != nil {
		v.Add("engine.mode must be On|DetectionOnly|Off")
	}
	if _, err := waf.ParseDisruptivePolicy(e.DisruptivePolicy); err != nil {
		v.Add("engine.disruptivePolicy must be skip_to_logging|continue_phases")
	}
	if _, err := waf.ParseAuditEngine(e.AuditEngine); err != nil {
		v.Add("engine.auditEngine must be all|relevant_only|off")
	}
	if e.InboundThreshold < 0 {
		v.Add("engine.inboundThreshold must be >= 0")
	}
	if e.OutboundThreshold < 0 {
		v.Add("engine.outboundThreshold must be >= 0")
	}
	for name, weight := range e.SeverityWeights {
		if _, err := types.ParseSeverity(name); err != nil {
			v.Add("engine.severityWeights.%s is not a severity", name)
		}
		if weight < 0 {
			v.Add("engine.severityWeights.%s must be >= 0", name)
		}
	}
	if e.RequestBodyLimit <= 0 {
		v.Add("engine.requestBodyLimit must be > 0")
	}
	if e.ResponseBodyLimit <= 0 {
		v.Add("engine.responseBodyLimit must be > 0")
	}
	if e.MatchTimeout <= 0 {
		v.Add("engine.matchTimeout must be > 0")
	}
	if e.UpstreamTimeout <= 0 {
		v.Add("engine.upstreamTimeout must be > 0")
	}
}

func (c *Config) validateRule(v *ValidationError, at string, rule Rule, top bool) {
	if rule.Marker != "" {
		if !top {
			v.Add("%s: a marker cannot be a chain link", at)
		}
		return
	}
	if top {
		if rule.ID <= 0 {
			v.Add("%s.id must be > 0", at)
		}
		if _, err := types.ParsePhase(rule.Phase); err != nil {
			v.Add("%s.phase invalid: %v", at, err)
		}
	} else {
		if rule.ID != 0 {
			v.Add("%s.id is inherited from the chain head", at)
		}
		if rule.Phase != "" {
			v.Add("%s.phase is inherited from the chain head", at)
		}
		if len(rule.Chain) > 0 {
			v.Add("%s.chain must be declared on the chain head", at)
		}
	}
	if rule.Operator.Name == "" {
		v.Add("%s.operator is required", at)
	} else if _, ok := operators.Get(rule.Operator.Name); !ok {
		v.Add("%s.operator %q is unknown", at, rule.Operator.Name)
	}
	if rule.Operator.DataFile != "" {
		if err := requireFile(c.resolvePath(rule.Operator.DataFile)); err != nil {
			v.Add("%s.operator.dataFile invalid: %v", at, err)
		}
	}
	if rule.Severity != "" {
		if _, err := types.ParseSeverity(rule.Severity); err != nil {
			v.Add("%s.severity invalid: %v", at, err)
		}
	}
	for i, link := range rule.Chain {
		c.validateRule(v, fmt.Sprintf("%s.chain[%d]", at, i), link, false)
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
