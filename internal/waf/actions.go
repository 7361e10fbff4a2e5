package waf

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

// execute runs one non-disruptive action of a fired rule.
func (tx *Transaction) execute(p types.Phase, head, r *rules.Rule, a rules.Action, f *flow) {
	switch a.Kind {
	case rules.ActionSetVar:
		tx.setVar(head.ID, a.SetVar)
	case rules.ActionScore:
		weight := a.Score
		if weight == 0 {
			severity := r.Severity
			if severity == types.SeverityUnset {
				severity = head.Severity
			}
			weight = tx.cfg.weight(severity)
		}
		tx.addScore(p, weight)
	case rules.ActionResetScore:
		tx.inbound, tx.outbound = 0, 0
		tx.mirrorScores()
	case rules.ActionSkip:
		f.skip = a.Skip
	case rules.ActionSkipAfter:
		f.skipAfter = a.Marker
	case rules.ActionCtl:
		tx.applyCtl(head.ID, a.Ctl)
	case rules.ActionLog, rules.ActionNoLog, rules.ActionAuditLog, rules.ActionNoAuditLog:
		// Resolved into event flags when the rule fires.
	}
}

func (tx *Transaction) addScore(p types.Phase, weight int) {
	if weight <= 0 {
		return
	}
	if p.IsRequest() {
		tx.inbound = operators.AddInt(tx.inbound, weight)
	} else {
		tx.outbound = operators.AddInt(tx.outbound, weight)
	}
	tx.mirrorScores()
}

func (tx *Transaction) mirrorScores() {
	_ = tx.store.Set(variables.TX, InboundScoreKey, strconv.Itoa(tx.inbound))
	_ = tx.store.Set(variables.TX, OutboundScoreKey, strconv.Itoa(tx.outbound))
}

// scoreSlot returns the score field backing a TX key, if any.
func (tx *Transaction) scoreSlot(key string) *int {
	switch strings.ToLower(key) {
	case InboundScoreKey:
		return &tx.inbound
	case OutboundScoreKey:
		return &tx.outbound
	}
	return nil
}

func (tx *Transaction) setVar(ruleID int, sv *rules.SetVar) {
	if sv == nil {
		return
	}
	key := sv.Key.Expand(tx)
	if key == "" {
		return
	}
	value := sv.Value.Expand(tx)

	if slot := tx.scoreSlot(key); slot != nil {
		next := *slot
		switch sv.Op {
		case rules.SetVarAssign:
			next = operators.ParseInt(value)
		case rules.SetVarAdd:
			next = operators.AddInt(next, operators.ParseInt(value))
		case rules.SetVarSub:
			next = operators.SubInt(next, operators.ParseInt(value))
		case rules.SetVarDelete:
			next = 0
		}
		if next < *slot {
			tx.logger.WithFields(logrus.Fields{
				"rule_id": ruleID,
				"key":     key,
				"current": *slot,
				"next":    next,
			}).Warn("setvar would lower an anomaly score, ignored")
			return
		}
		*slot = next
		tx.mirrorScores()
		return
	}

	current, _ := tx.store.Lookup(variables.TX, key)
	switch sv.Op {
	case rules.SetVarAssign:
		_ = tx.store.Set(variables.TX, key, value)
	case rules.SetVarAdd:
		_ = tx.store.Set(variables.TX, key, strconv.Itoa(operators.AddInt(operators.ParseInt(current), operators.ParseInt(value))))
	case rules.SetVarSub:
		_ = tx.store.Set(variables.TX, key, strconv.Itoa(operators.SubInt(operators.ParseInt(current), operators.ParseInt(value))))
	case rules.SetVarDelete:
		_ = tx.store.Remove(variables.TX, key)
	}
}

func (tx *Transaction) applyCtl(ruleID int, ctl *rules.Ctl) {
	if ctl == nil {
		return
	}
	entry := tx.logger.WithField("rule_id", ruleID)
	switch ctl.Kind {
	case rules.CtlRuleEngine:
		entry.WithField("mode", ctl.Mode.String()).Debug("ctl ruleEngine")
		tx.cfg.Mode = ctl.Mode
	case rules.CtlRuleRemoveByID:
		tx.removedIDs = append(tx.removedIDs, ctl.IDs...)
	case rules.CtlRuleRemoveTargetByID:
		tx.removedTargets = append(tx.removedTargets, removedTarget{ids: ctl.IDs, target: ctl.Target})
	}
}

// disrupt applies the head's disruptive action. The first interrupting
// verdict is final; logging rules never change it.
func (tx *Transaction) disrupt(p types.Phase, head *rules.Rule, a rules.Action, f *flow) {
	var kind VerdictKind
	switch a.Kind {
	case rules.ActionDeny:
		kind = VerdictDeny
	case rules.ActionBlock:
		kind = VerdictBlock
	case rules.ActionRedirect:
		kind = VerdictRedirect
	case rules.ActionAllow:
		kind = VerdictAllow
	case rules.ActionPass:
		kind = VerdictPass
	default:
		return
	}
	if p == types.PhaseLogging {
		tx.logger.WithField("rule_id", head.ID).Debug("disruptive action ignored in logging phase")
		return
	}

	v := Verdict{Kind: kind, Status: a.Status, RuleID: head.ID, Phase: p}
	if kind == VerdictRedirect {
		v.RedirectURL = a.URL.Expand(tx)
	}

	if kind == VerdictPass {
		// pass never halts and never replaces another verdict
		if tx.cfg.Mode != types.RuleEngineDetectionOnly && tx.verdict.Kind == VerdictContinue {
			tx.setVerdict(v)
		}
		return
	}

	if tx.cfg.Mode == types.RuleEngineDetectionOnly {
		if tx.detected == nil && !(kind == VerdictAllow && a.Scope == rules.AllowPhase) {
			tx.detected = &v
		}
		return
	}

	if tx.verdict.Kind.Interrupts() {
		f.halt = true
		return
	}

	if kind == VerdictAllow {
		f.halt = true
		switch a.Scope {
		case rules.AllowPhase:
		case rules.AllowRequest:
			tx.setVerdict(v)
			tx.skipAfter(p, types.PhaseRequestBody)
		default:
			tx.setVerdict(v)
			tx.skipAfter(p, types.PhaseResponseBody)
		}
		return
	}

	tx.setVerdict(v)
	f.halt = true
	if tx.cfg.DisruptivePolicy == SkipToLogging {
		tx.skipAfter(p, types.PhaseResponseBody)
	}
}

func (tx *Transaction) setVerdict(v Verdict) {
	if tx.verdict.Kind == VerdictAllow && !v.Kind.Interrupts() {
		return
	}
	tx.verdict = v
	tx.logger.WithFields(logrus.Fields{
		"rule_id": v.RuleID,
		"phase":   v.Phase.String(),
		"verdict": v.Kind.String(),
		"status":  v.Status,
	}).Info("verdict set")
}

// skipAfter marks the phases after p, up to last, as skipped.
func (tx *Transaction) skipAfter(p, last types.Phase) {
	for next := p + 1; next <= last; next++ {
		if !tx.phases[next].done {
			tx.phases[next].skip = true
		}
	}
}
