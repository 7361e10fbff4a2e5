package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ConfigVersion int           `yaml:"configVersion"`
	Server        ServerConfig  `yaml:"server"`
	Upstreams     []Upstream    `yaml:"upstreams"`
	Routes        []Route       `yaml:"routes"`
	Engine        EngineConfig  `yaml:"engine"`
	RuleFiles     []string      `yaml:"ruleFiles"`
	Rules         []Rule        `yaml:"rules"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type ServerConfig struct {
	Listen    string          `yaml:"listen"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig limits requests per client before they reach the engine.
type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	Key        string  `yaml:"key"`
	StatusCode int     `yaml:"statusCode"`
	MaxClients int     `yaml:"maxClients"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type Upstream struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Route sends matching requests to an upstream. Mode and RequestBodyLimit
// override the engine settings for the route's transactions.
type Route struct {
	Match            RouteMatch `yaml:"match"`
	Upstream         string     `yaml:"upstream"`
	Mode             string     `yaml:"mode"`
	RequestBodyLimit int        `yaml:"requestBodyLimit"`
}

// RouteMatch selects requests by host and path prefix. A host of the form
// "*.example.com" matches every subdomain of example.com.
type RouteMatch struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"pathPrefix"`
}

// EngineConfig carries the rule engine settings shared by every transaction.
type EngineConfig struct {
	Mode               string         `yaml:"mode"`
	DisruptivePolicy   string         `yaml:"disruptivePolicy"`
	AuditEngine        string         `yaml:"auditEngine"`
	InboundThreshold   int            `yaml:"inboundThreshold"`
	OutboundThreshold  int            `yaml:"outboundThreshold"`
	SeverityWeights    map[string]int `yaml:"severityWeights"`
	RequestBodyLimit   int            `yaml:"requestBodyLimit"`
	ResponseBodyLimit  int            `yaml:"responseBodyLimit"`
	TransformCacheSize int            `yaml:"transformCacheSize"`
	MatchTimeout       time.Duration  `yaml:"matchTimeout"`
	UpstreamTimeout    time.Duration  `yaml:"upstreamTimeout"`
	BlockBody          string         `yaml:"blockBody"`
}

// Rule is one rule document. Links of a chain are listed under Chain and
// share the rule's id and phase.
type Rule struct {
	ID         int      `yaml:"id"`
	Phase      string   `yaml:"phase"`
	Targets    []string `yaml:"targets"`
	Transforms []string `yaml:"transforms"`
	Operator   Operator `yaml:"operator"`
	Actions    []string `yaml:"actions"`

	Msg        string   `yaml:"msg"`
	LogData    string   `yaml:"logdata"`
	Severity   string   `yaml:"severity"`
	Tags       []string `yaml:"tags"`
	Rev        string   `yaml:"rev"`
	Ver        string   `yaml:"ver"`
	Capture    bool     `yaml:"capture"`
	MultiMatch bool     `yaml:"multiMatch"`

	Chain []Rule `yaml:"chain"`
	// Marker makes the document a skipAfter target carrying nothing else.
	Marker string `yaml:"marker"`
}

// Operator accepts either the short form "@rx ^admin" / "!@streq GET" or a
// mapping with name, argument, negate and dataFile.
type Operator struct {
	Name     string `yaml:"name"`
	Argument string `yaml:"argument"`
	Negate   bool   `yaml:"negate"`
	DataFile string `yaml:"dataFile"`
}

func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseOperator(node.Value)
		if err != nil {
			return err
		}
		*o = parsed
		return nil
	}
	type plain Operator
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	*o = Operator(out)
	o.Name = strings.TrimPrefix(strings.TrimSpace(o.Name), "@")
	return nil
}

// ParseOperator reads the short operator form. A bare argument without an
// operator name means @rx.
func ParseOperator(raw string) (Operator, error) {
	raw = strings.TrimSpace(raw)
	var op Operator
	if strings.HasPrefix(raw, "!") {
		op.Negate = true
		raw = strings.TrimSpace(raw[1:])
	}
	if !strings.HasPrefix(raw, "@") {
		op.Name = "rx"
		op.Argument = raw
		return op, nil
	}
	name, arg, _ := strings.Cut(raw[1:], " ")
	if name == "" {
		return Operator{}, fmt.Errorf("operator %q has no name", raw)
	}
	op.Name = name
	op.Argument = strings.TrimSpace(arg)
	return op, nil
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	AuditLog string `yaml:"auditLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}
