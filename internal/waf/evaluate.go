package waf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

// flow is what a fired rule asks of the scheduler.
type flow struct {
	halt      bool
	skip      int
	skipAfter string
}

// evaluatePhase runs the rules of p in order and reports whether the phase halted.
func (tx *Transaction) evaluatePhase(p types.Phase) bool {
	rs := tx.engine.rules
	list := rs.Phase(p)
	for pos := 0; pos < len(list); pos++ {
		if err := tx.ctx.Err(); err != nil {
			tx.abort(err)
			return false
		}
		if tx.cfg.Mode == types.RuleEngineOff {
			return false
		}
		r := rs.At(list[pos])
		if r.IsMarker() || tx.ruleRemoved(r.ID) {
			continue
		}

		f := tx.evaluateRule(p, list[pos])
		if f.halt {
			return true
		}
		switch {
		case f.skipAfter != "":
			if marker, ok := rs.MarkerPosition(p, f.skipAfter); ok && marker > pos {
				pos = marker
			}
		case f.skip > 0:
			for n := f.skip; n > 0 && pos+1 < len(list); {
				pos++
				if !rs.At(list[pos]).IsMarker() {
					n--
				}
			}
		}
	}
	return false
}

func (tx *Transaction) abort(err error) {
	if tx.aborted {
		return
	}
	tx.aborted = true
	tx.logger.WithError(err).Warn("transaction cancelled")
}

func (tx *Transaction) ruleRemoved(id int) bool {
	for _, r := range tx.removedIDs {
		if r.Contains(id) {
			return true
		}
	}
	return false
}

// evaluateRule evaluates a top-level rule and its chain. Events stay pending
// until every link has matched; only then are they committed and the actions run.
func (tx *Transaction) evaluateRule(p types.Phase, headIdx int) (f flow) {
	rs := tx.engine.rules
	head := rs.At(headIdx)
	defer func() {
		if rec := recover(); rec != nil {
			tx.recordAbort(head.ID, "", fmt.Errorf("panic: %v", rec))
			f = flow{}
		}
	}()

	_ = tx.store.Reset(variables.MatchedVars)

	var pending []MatchEvent
	var links []*rules.Rule
	idx := headIdx
	for {
		link := rs.At(idx)
		events := tx.matchRule(p, head, link)
		if len(events) == 0 {
			return flow{}
		}
		pending = append(pending, events...)
		links = append(links, link)
		next, ok := rs.Next(idx)
		if !ok {
			break
		}
		idx = next
	}

	disruptive, hasDisruptive := head.Disruptive()
	log, auditLog := head.LogFlags()
	for i := range pending {
		tx.events = append(tx.events, pending[i])
		ev := &tx.events[len(tx.events)-1]
		ev.Seq = len(tx.events)
		ev.Disruptive = hasDisruptive && disruptive.Kind != rules.ActionPass
		ev.Log, ev.AuditLog = log, auditLog
	}
	tx.engine.metrics.ObserveRuleMatch(head.ID, p.String())
	if log {
		last := pending[len(pending)-1]
		tx.logger.WithFields(logrus.Fields{
			"rule_id":  head.ID,
			"phase":    p.String(),
			"variable": last.Variable,
			"msg":      last.Msg,
		}).Info("rule matched")
	}

	for _, link := range links {
		for _, a := range link.Actions {
			if a.Kind.Disruptive() {
				continue
			}
			tx.execute(p, head, link, a, &f)
		}
	}
	if hasDisruptive {
		tx.disrupt(p, head, disruptive, &f)
	}
	return f
}

// matchRule evaluates one rule or chain link against its targets and
// returns an event per firing value.
func (tx *Transaction) matchRule(p types.Phase, head, r *rules.Rule) []MatchEvent {
	values := tx.resolve(r)
	tx.capturing = r.Capture

	var events []MatchEvent
	for _, md := range values {
		variable := ""
		if md.Variable != variables.Unknown {
			variable = md.Name()
		}

		var candidates []candidate
		if r.MultiMatch {
			for _, step := range r.Transforms.Steps(md.Value) {
				candidates = append(candidates, candidate{value: step.Value, applied: step.Applied})
			}
		} else {
			value, applied := tx.cache.Apply(r.Transforms, md.Value)
			candidates = []candidate{{value: value, applied: applied}}
		}

		for _, c := range candidates {
			result := r.Operator.Op.Evaluate(tx, c.value)
			if result.Err != nil {
				tx.recordAbort(head.ID, variable, result.Err)
				continue
			}
			if result.Matched == r.Operator.Negated {
				continue
			}

			tx.setMatched(md, variable)
			capture := ""
			if r.Capture && len(result.Captures) > 0 {
				tx.setCaptures(result.Captures)
				capture = result.Captures[0]
			}
			events = append(events, tx.newEvent(p, head, r, variable, c, capture))
			break
		}
	}
	tx.capturing = false
	return events
}

type candidate struct {
	value   string
	applied []string
}

// resolve collects the values of r's targets minus targets removed by ctl.
// A rule without targets is evaluated once against an empty value.
func (tx *Transaction) resolve(r *rules.Rule) []variables.MatchData {
	if len(r.Targets) == 0 {
		return []variables.MatchData{{}}
	}
	var out []variables.MatchData
	for _, sel := range r.Targets {
		for _, md := range tx.store.Get(sel) {
			if tx.targetRemoved(r.ID, md) {
				continue
			}
			out = append(out, md)
		}
	}
	return out
}

func (tx *Transaction) targetRemoved(id int, md variables.MatchData) bool {
	for _, rt := range tx.removedTargets {
		if rt.target.Variable != md.Variable {
			continue
		}
		matched := false
		for _, r := range rt.ids {
			if r.Contains(id) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		switch {
		case rt.target.KeyRx != nil:
			if rt.target.KeyRx.MatchString(md.Key) {
				return true
			}
		case rt.target.Key == "":
			return true
		case strings.EqualFold(rt.target.Key, md.Key):
			return true
		}
	}
	return false
}

func (tx *Transaction) setMatched(md variables.MatchData, variable string) {
	_ = tx.store.SetSingle(variables.MatchedVar, md.Value)
	_ = tx.store.SetSingle(variables.MatchedVarName, variable)
	if variable != "" {
		_ = tx.store.Add(variables.MatchedVars, variable, md.Value)
	}
}

func (tx *Transaction) setCaptures(captures []string) {
	for i := 0; i < 10; i++ {
		key := strconv.Itoa(i)
		if i < len(captures) {
			_ = tx.store.Set(variables.TX, key, captures[i])
		} else {
			_ = tx.store.Remove(variables.TX, key)
		}
	}
}

func (tx *Transaction) newEvent(p types.Phase, head, r *rules.Rule, variable string, c candidate, capture string) MatchEvent {
	msg, logData := r.Msg, r.LogData
	if msg.String() == "" {
		msg = head.Msg
	}
	if logData.String() == "" {
		logData = head.LogData
	}
	severity := r.Severity
	if severity == types.SeverityUnset {
		severity = head.Severity
	}
	tags := r.Tags
	if len(tags) == 0 {
		tags = head.Tags
	}
	return MatchEvent{
		Timestamp:  tx.engine.now(),
		RuleID:     head.ID,
		ChainLevel: r.Level(),
		Phase:      p,
		Variable:   variable,
		Value:      audit.Truncate(c.value),
		Capture:    audit.Truncate(capture),
		Transforms: c.applied,
		Msg:        msg.Expand(tx),
		LogData:    audit.Truncate(logData.Expand(tx)),
		Tags:       tags,
		Severity:   severity,
	}
}

func (tx *Transaction) recordAbort(ruleID int, variable string, err error) {
	tx.aborts = append(tx.aborts, OperatorAbort{RuleID: ruleID, Variable: variable, Err: err})
	tx.engine.metrics.ObserveOperatorAbort(ruleID)
	entry := tx.logger.WithError(err).WithField("rule_id", ruleID)
	if variable != "" {
		entry = entry.WithField("variable", variable)
	}
	entry.Warn("operator aborted")
}

// IsTimeout reports whether an abort came from the match budget.
func (a OperatorAbort) IsTimeout() bool {
	return a.Err != nil && errors.Is(a.Err, operators.ErrTimeout)
}
