package waf

import (
	"fmt"
	"strings"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/types"
)

type VerdictKind uint8

const (
	VerdictContinue VerdictKind = iota
	VerdictBlock
	VerdictDeny
	VerdictRedirect
	VerdictPass
	VerdictAllow
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictBlock:
		return "block"
	case VerdictDeny:
		return "deny"
	case VerdictRedirect:
		return "redirect"
	case VerdictPass:
		return "pass"
	case VerdictAllow:
		return "allow"
	default:
		return "continue"
	}
}

// Interrupts reports whether the verdict stops the request from reaching
// the application.
func (k VerdictKind) Interrupts() bool {
	return k == VerdictBlock || k == VerdictDeny || k == VerdictRedirect
}

// Verdict is the outcome handed to the connector.
type Verdict struct {
	Kind        VerdictKind
	Status      int
	RedirectURL string
	RuleID      int
	Phase       types.Phase
}

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictContinue:
		return "continue"
	case VerdictRedirect:
		return fmt.Sprintf("redirect %d %s (rule %d)", v.Status, v.RedirectURL, v.RuleID)
	default:
		return fmt.Sprintf("%s %d (rule %d)", v.Kind, v.Status, v.RuleID)
	}
}

func (v Verdict) record() audit.Verdict {
	out := audit.Verdict{
		Action:      v.Kind.String(),
		Status:      v.Status,
		RedirectURL: v.RedirectURL,
		RuleID:      v.RuleID,
	}
	if v.Phase.Valid() {
		out.Phase = v.Phase.String()
	}
	return out
}

// PhaseOutcome reports what happened while evaluating one phase.
type PhaseOutcome struct {
	Phase   types.Phase
	Halted  bool
	Verdict Verdict
	// Skipped is set when an earlier disruptive action bypassed the phase.
	Skipped bool
	Err     error
}

// DisruptivePolicy decides what an interruption does to the later phases.
type DisruptivePolicy uint8

const (
	// SkipToLogging skips every remaining phase except logging.
	SkipToLogging DisruptivePolicy = iota
	// ContinuePhases halts only the current phase.
	ContinuePhases
)

func (p DisruptivePolicy) String() string {
	if p == ContinuePhases {
		return "continue_phases"
	}
	return "skip_to_logging"
}

func ParseDisruptivePolicy(raw string) (DisruptivePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "skip_to_logging":
		return SkipToLogging, nil
	case "continue_phases":
		return ContinuePhases, nil
	default:
		return SkipToLogging, fmt.Errorf("unknown disruptive policy %q", raw)
	}
}

// AuditEngine selects which transactions reach the audit writer.
type AuditEngine uint8

const (
	// AuditRelevantOnly writes transactions with events, aborts or a non-continue verdict.
	AuditRelevantOnly AuditEngine = iota
	AuditAll
	AuditOff
)

func (a AuditEngine) String() string {
	switch a {
	case AuditAll:
		return "all"
	case AuditOff:
		return "off"
	default:
		return "relevant_only"
	}
}

func ParseAuditEngine(raw string) (AuditEngine, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "relevant_only", "relevantonly":
		return AuditRelevantOnly, nil
	case "all", "on":
		return AuditAll, nil
	case "off":
		return AuditOff, nil
	default:
		return AuditRelevantOnly, fmt.Errorf("unknown audit engine %q", raw)
	}
}
