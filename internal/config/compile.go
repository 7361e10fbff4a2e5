package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/transform"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
	"github.com/veilwaf/veil/internal/waf"
)

// BuildRuleSet compiles every rule document and validates the result.
func (c *Config) BuildRuleSet() (*rules.RuleSet, error) {
	defs, err := c.CompileRules()
	if err != nil {
		return nil, err
	}
	return rules.NewRuleSet(defs)
}

// CompileRules turns rule documents into definitions in load order, chain
// links directly after their head. All problems are collected into a
// *rules.LoadError.
func (c *Config) CompileRules() ([]*rules.Rule, error) {
	errs := &rules.LoadError{}
	var defs []*rules.Rule
	for i, raw := range c.Rules {
		if raw.Marker != "" {
			defs = append(defs, &rules.Rule{Marker: raw.Marker})
			continue
		}

		head, err := c.compileRule(raw)
		if err != nil {
			errs.Add("rule %d (position %d): %v", raw.ID, i, err)
			continue
		}
		phase, err := types.ParsePhase(raw.Phase)
		if err != nil {
			errs.Add("rule %d: %v", raw.ID, err)
			continue
		}
		head.ID = raw.ID
		head.Phase = phase
		head.Chained = len(raw.Chain) > 0
		defs = append(defs, head)

		for level, rawLink := range raw.Chain {
			link, err := c.compileRule(rawLink)
			if err != nil {
				errs.Add("rule %d chain link %d: %v", raw.ID, level+1, err)
				continue
			}
			link.ID = rawLink.ID
			link.Chained = level < len(raw.Chain)-1
			defs = append(defs, link)
		}
	}
	if len(errs.Problems) > 0 {
		sort.Strings(errs.Problems)
		return nil, errs
	}
	return defs, nil
}

func (c *Config) compileRule(raw Rule) (*rules.Rule, error) {
	r := &rules.Rule{
		Msg:        operators.ParseMacro(raw.Msg),
		LogData:    operators.ParseMacro(raw.LogData),
		Tags:       append([]string(nil), raw.Tags...),
		Rev:        raw.Rev,
		Ver:        raw.Ver,
		Capture:    raw.Capture,
		MultiMatch: raw.MultiMatch,
	}

	severity, err := types.ParseSeverity(raw.Severity)
	if err != nil {
		return nil, err
	}
	r.Severity = severity

	if r.Targets, err = variables.ParseTargets(raw.Targets); err != nil {
		return nil, err
	}
	if r.Transforms, err = transform.NewChain(raw.Transforms); err != nil {
		return nil, err
	}

	op, err := c.compileOperator(raw.Operator)
	if err != nil {
		return nil, err
	}
	r.Operator = op

	for _, item := range raw.Actions {
		name, param, _ := strings.Cut(strings.TrimSpace(item), ":")
		action, err := rules.ParseAction(name, strings.Trim(param, `'"`))
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", item, err)
		}
		switch action.Kind {
		case rules.ActionNoLog:
			r.NoLog = true
		case rules.ActionNoAuditLog:
			r.NoAuditLog = true
		}
		r.Actions = append(r.Actions, action)
	}
	return r, nil
}

func (c *Config) compileOperator(raw Operator) (rules.RuleOperator, error) {
	if raw.Name == "" {
		return rules.RuleOperator{}, errors.New("operator is required")
	}
	opts := operators.Options{
		Arguments:    raw.Argument,
		MatchTimeout: c.Engine.MatchTimeout,
	}

	files := raw.DataFile
	if files == "" && readsFiles(raw.Name) {
		files = raw.Argument
	}
	if files != "" {
		for _, file := range strings.Fields(files) {
			entries, err := readDataFile(c.resolvePath(file))
			if err != nil {
				return rules.RuleOperator{}, err
			}
			opts.Data = append(opts.Data, entries...)
		}
	}

	op, err := operators.New(raw.Name, opts)
	if err != nil {
		return rules.RuleOperator{}, err
	}
	return rules.RuleOperator{Name: raw.Name, Arguments: raw.Argument, Negated: raw.Negate, Op: op}, nil
}

func readsFiles(name string) bool {
	switch strings.ToLower(strings.TrimPrefix(name, "@")) {
	case "pmf", "pmfromfile", "ipmatchf", "ipmatchfromfile":
		return true
	}
	return false
}

// readDataFile reads one entry per line, skipping blanks and # comments.
func readDataFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// WAFConfig converts the engine section. It assumes Validate passed.
func (c *Config) WAFConfig() (waf.Config, error) {
	cfg := waf.DefaultConfig()
	var err error
	if cfg.Mode, err = types.ParseRuleEngineMode(c.Engine.Mode); err != nil {
		return cfg, err
	}
	if cfg.DisruptivePolicy, err = waf.ParseDisruptivePolicy(c.Engine.DisruptivePolicy); err != nil {
		return cfg, err
	}
	if cfg.AuditEngine, err = waf.ParseAuditEngine(c.Engine.AuditEngine); err != nil {
		return cfg, err
	}
	cfg.InboundThreshold = c.Engine.InboundThreshold
	cfg.OutboundThreshold = c.Engine.OutboundThreshold
	cfg.RequestBodyLimit = c.Engine.RequestBodyLimit
	cfg.ResponseBodyLimit = c.Engine.ResponseBodyLimit
	if c.Engine.TransformCacheSize > 0 {
		cfg.TransformCacheSize = c.Engine.TransformCacheSize
	}
	for name, weight := range c.Engine.SeverityWeights {
		severity, err := types.ParseSeverity(name)
		if err != nil {
			return cfg, err
		}
		cfg.SeverityWeights[severity] = weight
	}
	return cfg, nil
}
