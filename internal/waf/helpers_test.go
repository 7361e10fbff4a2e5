package waf

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/transform"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

// rule builds a rule definition from compact text forms: targets such as
// "ARGS|REQUEST_HEADERS:User-Agent", an operator such as "@rx ^a" and
// actions such as "setvar:tx.a=1".
func rule(t *testing.T, id int, phase types.Phase, targets, operator string, actions ...string) *rules.Rule {
	t.Helper()
	r := &rules.Rule{ID: id, Phase: phase, Severity: types.SeverityUnset}
	if targets != "" {
		selectors, err := variables.ParseTargets(strings.Split(targets, "|"))
		require.NoError(t, err)
		r.Targets = selectors
	}

	name, arg, _ := strings.Cut(strings.TrimSpace(operator), " ")
	if strings.HasPrefix(name, "!") {
		r.Operator.Negated = true
		name = name[1:]
	}
	op, err := operators.New(name, operators.Options{Arguments: arg})
	require.NoError(t, err)
	r.Operator = rules.RuleOperator{Name: name, Arguments: arg, Negated: r.Operator.Negated, Op: op}

	for _, raw := range actions {
		actionName, param, _ := strings.Cut(raw, ":")
		switch actionName {
		case "t":
			chain, err := transform.NewChain(append(r.Transforms.Names(), param))
			require.NoError(t, err)
			r.Transforms = chain
		case "msg":
			r.Msg = operators.ParseMacro(param)
		case "logdata":
			r.LogData = operators.ParseMacro(param)
		case "severity":
			severity, err := types.ParseSeverity(param)
			require.NoError(t, err)
			r.Severity = severity
		case "capture":
			r.Capture = true
		case "multiMatch":
			r.MultiMatch = true
		case "chain":
			r.Chained = true
		default:
			action, err := rules.ParseAction(actionName, param)
			require.NoError(t, err)
			r.Actions = append(r.Actions, action)
		}
	}
	return r
}

func marker(name string) *rules.Rule {
	return &rules.Rule{Marker: name}
}

type recordingWriter struct {
	records []audit.Record
}

func (w *recordingWriter) Write(rec audit.Record) error {
	w.records = append(w.records, rec)
	return nil
}

type harness struct {
	engine *Engine
	audit  *recordingWriter
	logs   *test.Hook
}

func newHarness(t *testing.T, cfg Config, defs ...*rules.Rule) *harness {
	t.Helper()
	rs, err := rules.NewRuleSet(defs)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer := &recordingWriter{}

	engine, err := NewEngine(rs,
		WithConfig(cfg),
		WithLogger(logrus.NewEntry(logger)),
		WithIDGenerator(NewUUIDGenerator(42)),
		WithAuditWriter(writer),
		WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)
	return &harness{engine: engine, audit: writer, logs: hook}
}

func (h *harness) tx() *Transaction {
	return h.engine.NewTransaction(context.Background())
}

func getRequest(uri string, headers ...Header) *PhaseData {
	return &PhaseData{
		Connection: &Connection{ClientIP: "203.0.113.9", ClientPort: 51000, ServerIP: "10.0.0.1", ServerPort: 8080},
		Method:     "GET",
		URI:        uri,
		Protocol:   "HTTP/1.1",
		Headers:    headers,
	}
}

func txValue(tx *Transaction, key string) string {
	value, _ := tx.Variables().Lookup(variables.TX, key)
	return value
}
