package rules

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

type ActionKind uint8

const (
	ActionSetVar ActionKind = iota + 1
	ActionScore
	ActionResetScore
	ActionLog
	ActionNoLog
	ActionAuditLog
	ActionNoAuditLog
	ActionSkip
	ActionSkipAfter
	ActionCtl

	ActionDeny
	ActionBlock
	ActionRedirect
	ActionAllow
	ActionPass
)

var actionNames = map[ActionKind]string{
	ActionSetVar:     "setvar",
	ActionScore:      "score",
	ActionResetScore: "resetscore",
	ActionLog:        "log",
	ActionNoLog:      "nolog",
	ActionAuditLog:   "auditlog",
	ActionNoAuditLog: "noauditlog",
	ActionSkip:       "skip",
	ActionSkipAfter:  "skipAfter",
	ActionCtl:        "ctl",
	ActionDeny:       "deny",
	ActionBlock:      "block",
	ActionRedirect:   "redirect",
	ActionAllow:      "allow",
	ActionPass:       "pass",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Disruptive reports whether the action decides the transaction outcome.
func (k ActionKind) Disruptive() bool {
	return k >= ActionDeny
}

// AllowScope limits how much evaluation an allow action skips.
type AllowScope uint8

const (
	AllowTransaction AllowScope = iota
	AllowPhase
	AllowRequest
)

func (s AllowScope) String() string {
	switch s {
	case AllowPhase:
		return "phase"
	case AllowRequest:
		return "request"
	default:
		return "transaction"
	}
}

type SetVarOp uint8

const (
	SetVarAssign SetVarOp = iota
	SetVarAdd
	SetVarSub
	SetVarDelete
)

// SetVar writes to a TX key. Key and Value may contain macros.
type SetVar struct {
	Key   operators.Macro
	Op    SetVarOp
	Value operators.Macro
}

type CtlKind uint8

const (
	CtlRuleEngine CtlKind = iota + 1
	CtlRuleRemoveByID
	CtlRuleRemoveTargetByID
)

// Ctl changes the transaction's configuration copy.
type Ctl struct {
	Kind CtlKind
	Mode types.RuleEngineMode
	// IDs holds inclusive ranges; a single id is a range of one.
	IDs    []IDRange
	Target variables.Selector
}

type IDRange struct {
	From, To int
}

func (r IDRange) Contains(id int) bool {
	return id >= r.From && id <= r.To
}

type Action struct {
	Kind ActionKind

	SetVar *SetVar
	Ctl    *Ctl

	// Score overrides the severity weight when non-zero.
	Score  int
	Skip   int
	Marker string

	Status int
	URL    operators.Macro
	Scope  AllowScope
}

// ParseAction builds an action from its name and optional parameter, as in
// "setvar" / "tx.score=+5" or "deny" / "403".
func ParseAction(name, param string) (Action, error) {
	param = strings.TrimSpace(param)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "setvar":
		sv, err := ParseSetVar(param)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionSetVar, SetVar: sv}, nil
	case "score":
		a := Action{Kind: ActionScore}
		if param != "" {
			n, err := strconv.Atoi(param)
			if err != nil || n < 0 {
				return Action{}, fmt.Errorf("score %q must be a non-negative integer", param)
			}
			a.Score = n
		}
		return a, nil
	case "resetscore":
		return Action{Kind: ActionResetScore}, nil
	case "log":
		return Action{Kind: ActionLog}, nil
	case "nolog":
		return Action{Kind: ActionNoLog}, nil
	case "auditlog":
		return Action{Kind: ActionAuditLog}, nil
	case "noauditlog":
		return Action{Kind: ActionNoAuditLog}, nil
	case "skip":
		n, err := strconv.Atoi(param)
		if err != nil || n < 1 {
			return Action{}, fmt.Errorf("skip %q must be a positive integer", param)
		}
		return Action{Kind: ActionSkip, Skip: n}, nil
	case "skipafter":
		if param == "" {
			return Action{}, fmt.Errorf("skipAfter requires a marker")
		}
		return Action{Kind: ActionSkipAfter, Marker: param}, nil
	case "ctl":
		ctl, err := ParseCtl(param)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionCtl, Ctl: ctl}, nil
	case "deny":
		status, err := parseStatus(param, http.StatusForbidden)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionDeny, Status: status}, nil
	case "block":
		status, err := parseStatus(param, http.StatusForbidden)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionBlock, Status: status}, nil
	case "redirect":
		if param == "" {
			return Action{}, fmt.Errorf("redirect requires a URL")
		}
		return Action{Kind: ActionRedirect, Status: http.StatusFound, URL: operators.ParseMacro(param)}, nil
	case "allow":
		a := Action{Kind: ActionAllow}
		switch strings.ToLower(param) {
		case "", "transaction":
		case "phase":
			a.Scope = AllowPhase
		case "request":
			a.Scope = AllowRequest
		default:
			return Action{}, fmt.Errorf("allow scope %q must be transaction|phase|request", param)
		}
		return a, nil
	case "pass":
		return Action{Kind: ActionPass}, nil
	default:
		return Action{}, fmt.Errorf("unknown action %q", name)
	}
}

func parseStatus(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	status, err := strconv.Atoi(raw)
	if err != nil || status < 100 || status > 599 {
		return 0, fmt.Errorf("status %q must be an HTTP status code", raw)
	}
	return status, nil
}

// ParseSetVar parses "tx.key=value", "tx.key=+n", "tx.key=-n" and "!tx.key".
func ParseSetVar(raw string) (*SetVar, error) {
	if raw == "" {
		return nil, fmt.Errorf("setvar requires an expression")
	}
	if strings.HasPrefix(raw, "!") {
		key, err := txKey(raw[1:])
		if err != nil {
			return nil, err
		}
		return &SetVar{Key: operators.ParseMacro(key), Op: SetVarDelete}, nil
	}

	target, value, hasValue := strings.Cut(raw, "=")
	key, err := txKey(target)
	if err != nil {
		return nil, err
	}
	sv := &SetVar{Key: operators.ParseMacro(key), Op: SetVarAssign}
	if !hasValue {
		sv.Value = operators.ParseMacro("1")
		return sv, nil
	}
	switch {
	case strings.HasPrefix(value, "+"):
		sv.Op = SetVarAdd
		value = value[1:]
	case strings.HasPrefix(value, "-"):
		sv.Op = SetVarSub
		value = value[1:]
	}
	sv.Value = operators.ParseMacro(value)
	return sv, nil
}

func txKey(raw string) (string, error) {
	collection, key, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || !strings.EqualFold(collection, "tx") || key == "" {
		return "", fmt.Errorf("setvar target %q must be tx.<key>", raw)
	}
	return key, nil
}

// ParseCtl parses "ruleEngine=Off", "ruleRemoveById=100-200 300" and
// "ruleRemoveTargetById=100;ARGS:password".
func ParseCtl(raw string) (*Ctl, error) {
	name, value, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("ctl %q must be name=value", raw)
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ruleengine":
		mode, err := types.ParseRuleEngineMode(value)
		if err != nil {
			return nil, err
		}
		return &Ctl{Kind: CtlRuleEngine, Mode: mode}, nil
	case "ruleremovebyid":
		ids, err := parseIDRanges(value)
		if err != nil {
			return nil, err
		}
		return &Ctl{Kind: CtlRuleRemoveByID, IDs: ids}, nil
	case "ruleremovetargetbyid":
		idPart, targetPart, ok := strings.Cut(value, ";")
		if !ok {
			return nil, fmt.Errorf("ctl ruleRemoveTargetById %q must be id;TARGET", value)
		}
		ids, err := parseIDRanges(idPart)
		if err != nil {
			return nil, err
		}
		selectors, err := variables.ParseTargets([]string{targetPart})
		if err != nil {
			return nil, err
		}
		if len(selectors) != 1 {
			return nil, fmt.Errorf("ctl ruleRemoveTargetById needs exactly one target")
		}
		return &Ctl{Kind: CtlRuleRemoveTargetByID, IDs: ids, Target: selectors[0]}, nil
	default:
		return nil, fmt.Errorf("unknown ctl %q", name)
	}
}

func parseIDRanges(raw string) ([]IDRange, error) {
	var out []IDRange
	for _, item := range strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' }) {
		from, to, isRange := strings.Cut(item, "-")
		a, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("rule id %q: %w", item, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(to); err != nil {
				return nil, fmt.Errorf("rule id %q: %w", item, err)
			}
		}
		if a > b {
			return nil, fmt.Errorf("rule id range %q is reversed", item)
		}
		out = append(out, IDRange{From: a, To: b})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ctl needs at least one rule id")
	}
	return out, nil
}
