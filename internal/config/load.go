package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veilwaf/veil/internal/operators"
)

const (
	defaultListen          = ":8080"
	defaultUpstreamTimeout = 30 * time.Second
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return Parse(data, filepath.Dir(absPath))
}

// Parse decodes a config document. Relative paths resolve against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.baseDir = baseDir

	if err := cfg.loadRuleFiles(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type ruleDocument struct {
	Rules []Rule `yaml:"rules"`
}

// loadRuleFiles appends the rules of every file matched by RuleFiles, in
// pattern order and then file name order.
func (c *Config) loadRuleFiles() error {
	for _, pattern := range c.RuleFiles {
		matches, err := filepath.Glob(c.resolvePath(pattern))
		if err != nil {
			return fmt.Errorf("rule files %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("rule files %q: no match", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read rules: %w", err)
			}
			var doc ruleDocument
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse rules %s: %w", filepath.Base(path), err)
			}
			c.Rules = append(c.Rules, doc.Rules...)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Engine.InboundThreshold == 0 {
		c.Engine.InboundThreshold = 5
	}
	if c.Engine.OutboundThreshold == 0 {
		c.Engine.OutboundThreshold = 4
	}
	if c.Engine.RequestBodyLimit == 0 {
		c.Engine.RequestBodyLimit = 1 << 20
	}
	if c.Engine.ResponseBodyLimit == 0 {
		c.Engine.ResponseBodyLimit = 512 << 10
	}
	if c.Engine.MatchTimeout == 0 {
		c.Engine.MatchTimeout = operators.DefaultMatchTimeout
	}
	if c.Engine.UpstreamTimeout == 0 {
		c.Engine.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) resolvePath(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	base := c.baseDir
	if base == "" {
		base = "."
	}
	return filepath.Join(base, p)
}
