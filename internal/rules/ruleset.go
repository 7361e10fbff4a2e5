package rules

import (
	"fmt"
	"sort"

	"github.com/veilwaf/veil/internal/types"
)

const noChild = -1

// LoadError aggregates every problem found while building a RuleSet.
type LoadError struct {
	Problems []string
}

func (e *LoadError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *LoadError) Error() string {
	if len(e.Problems) == 1 {
		return "ruleset: " + e.Problems[0]
	}
	return fmt.Sprintf("ruleset: %d load error(s)", len(e.Problems))
}

// RuleSet is an immutable, validated collection of rules. Rules live in one
// arena in load order; chains link forward by index.
type RuleSet struct {
	rules   []Rule
	phases  [types.PhaseLogging + 1][]int
	byID    map[int]int
	markers map[string]int
}

// NewRuleSet validates defs and builds the arena. Definitions are copied.
func NewRuleSet(defs []*Rule) (*RuleSet, error) {
	rs := &RuleSet{
		rules:   make([]Rule, 0, len(defs)),
		byID:    make(map[int]int, len(defs)),
		markers: make(map[string]int),
	}
	errs := &LoadError{}

	for i := 0; i < len(defs); i++ {
		def := defs[i]
		if def == nil {
			errs.Add("definition %d is nil", i)
			continue
		}

		if def.IsMarker() {
			if _, dup := rs.markers[def.Marker]; dup {
				errs.Add("marker %q is duplicated", def.Marker)
				continue
			}
			idx := len(rs.rules)
			r := *def
			r.next = noChild
			rs.rules = append(rs.rules, r)
			rs.markers[def.Marker] = idx
			for _, p := range types.Phases {
				rs.phases[p] = append(rs.phases[p], idx)
			}
			continue
		}

		head := *def
		duplicate := rs.hasID(head.ID)
		switch {
		case head.ID == 0:
			errs.Add("rule at position %d has no id", i)
		case duplicate:
			errs.Add("rule %d is duplicated", head.ID)
		}
		if !head.Phase.Valid() {
			errs.Add("rule %d has invalid phase %d", head.ID, head.Phase)
		}
		if head.Operator.Op == nil {
			errs.Add("rule %d has no operator", head.ID)
		}

		headIdx := len(rs.rules)
		head.headID = head.ID
		head.level = 0
		head.next = noChild
		rs.rules = append(rs.rules, head)
		if head.ID != 0 && !duplicate {
			rs.byID[head.ID] = headIdx
		}
		if head.Phase.Valid() {
			rs.phases[head.Phase] = append(rs.phases[head.Phase], headIdx)
		}

		prev := headIdx
		chained := head.Chained
		level := 0
		for chained {
			if i+1 >= len(defs) || defs[i+1] == nil {
				errs.Add("rule %d chain is dangling", head.ID)
				break
			}
			i++
			level++
			link := *defs[i]
			if link.ID != 0 && link.ID != head.ID {
				errs.Add("rule %d chain link %d must not carry its own id %d", head.ID, level, link.ID)
			}
			if link.Operator.Op == nil {
				errs.Add("rule %d chain link %d has no operator", head.ID, level)
			}
			if _, ok := link.Disruptive(); ok {
				errs.Add("rule %d chain link %d has a disruptive action", head.ID, level)
			}
			link.ID = head.ID
			link.Phase = head.Phase
			link.headID = head.ID
			link.level = level
			link.next = noChild
			idx := len(rs.rules)
			rs.rules = append(rs.rules, link)
			rs.rules[prev].next = idx
			prev = idx
			chained = link.Chained
		}
	}

	for idx := range rs.rules {
		for _, a := range rs.rules[idx].Actions {
			if a.Kind != ActionSkipAfter {
				continue
			}
			if _, ok := rs.markers[a.Marker]; !ok {
				errs.Add("rule %d skipAfter marker %q does not exist", rs.rules[idx].headID, a.Marker)
			}
		}
	}

	if len(errs.Problems) > 0 {
		sort.Strings(errs.Problems)
		return nil, errs
	}
	return rs, nil
}

func (rs *RuleSet) hasID(id int) bool {
	_, ok := rs.byID[id]
	return ok
}

// Len counts arena entries, chain links and markers included.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// At returns the rule at arena index idx.
func (rs *RuleSet) At(idx int) *Rule {
	return &rs.rules[idx]
}

// Phase lists the arena indices of top-level rules and markers evaluated in p.
func (rs *RuleSet) Phase(p types.Phase) []int {
	if !p.Valid() {
		return nil
	}
	return rs.phases[p]
}

// Next returns the arena index of idx's chain child.
func (rs *RuleSet) Next(idx int) (int, bool) {
	next := rs.rules[idx].next
	return next, next != noChild
}

// Lookup finds a top-level rule by id.
func (rs *RuleSet) Lookup(id int) (*Rule, bool) {
	idx, ok := rs.byID[id]
	if !ok {
		return nil, false
	}
	return &rs.rules[idx], true
}

// IDs lists top-level rule ids in load order.
func (rs *RuleSet) IDs() []int {
	out := make([]int, 0, len(rs.byID))
	for _, r := range rs.rules {
		if r.level == 0 && !r.IsMarker() {
			out = append(out, r.ID)
		}
	}
	return out
}

// MarkerPosition reports the position of a marker within a phase list.
func (rs *RuleSet) MarkerPosition(p types.Phase, marker string) (int, bool) {
	idx, ok := rs.markers[marker]
	if !ok {
		return 0, false
	}
	for pos, candidate := range rs.Phase(p) {
		if candidate == idx {
			return pos, true
		}
	}
	return 0, false
}
