package rules

import (
	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/transform"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

// RuleOperator is the compiled test of a rule.
type RuleOperator struct {
	Name      string
	Arguments string
	Negated   bool
	Op        operators.Operator
}

// Rule is one rule or chain link. A rule with Chained set has the rule that
// follows it in the definition list as its child.
type Rule struct {
	ID    int
	Phase types.Phase

	Targets    []variables.Selector
	Transforms transform.Chain
	Operator   RuleOperator
	Actions    []Action

	Severity types.Severity
	Msg      operators.Macro
	LogData  operators.Macro
	Tags     []string
	Rev      string
	Ver      string

	Capture    bool
	MultiMatch bool
	NoLog      bool
	NoAuditLog bool

	Chained bool
	// Marker names a skipAfter target. Marker rules carry nothing else.
	Marker string

	// Set by NewRuleSet.
	headID int
	next   int
	level  int
}

// HeadID is the id reported for the rule; chain links report their head's.
func (r *Rule) HeadID() int {
	return r.headID
}

// Level is the rule's depth in its chain, 0 for the head.
func (r *Rule) Level() int {
	return r.level
}

// IsMarker reports whether the rule only marks a skipAfter position.
func (r *Rule) IsMarker() bool {
	return r.Marker != "" && r.Operator.Op == nil
}

// Disruptive returns the first disruptive action, if any.
func (r *Rule) Disruptive() (Action, bool) {
	for _, a := range r.Actions {
		if a.Kind.Disruptive() {
			return a, true
		}
	}
	return Action{}, false
}

// LogFlags resolves the log and auditlog switches from flags and actions.
func (r *Rule) LogFlags() (log, auditLog bool) {
	log, auditLog = !r.NoLog, !r.NoAuditLog
	for _, a := range r.Actions {
		switch a.Kind {
		case ActionLog:
			log = true
		case ActionNoLog:
			log = false
		case ActionAuditLog:
			auditLog = true
		case ActionNoAuditLog:
			auditLog = false
		}
	}
	return log, auditLog
}
