package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Severity follows the syslog scale used by rule metadata; lower is more severe.
type Severity int

const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
	SeverityUnset Severity = -1
)

var severityNames = []string{
	"emergency",
	"alert",
	"critical",
	"error",
	"warning",
	"notice",
	"info",
	"debug",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return ""
	}
	return severityNames[s]
}

func ParseSeverity(raw string) (Severity, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return SeverityUnset, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n >= len(severityNames) {
			return SeverityUnset, fmt.Errorf("severity %d out of range", n)
		}
		return Severity(n), nil
	}
	for i, name := range severityNames {
		if name == value {
			return Severity(i), nil
		}
	}
	return SeverityUnset, fmt.Errorf("unknown severity %q", raw)
}

// RuleEngineMode mirrors the SecRuleEngine directive.
type RuleEngineMode uint8

const (
	RuleEngineOn RuleEngineMode = iota
	RuleEngineDetectionOnly
	RuleEngineOff
)

func (m RuleEngineMode) String() string {
	switch m {
	case RuleEngineOn:
		return "On"
	case RuleEngineDetectionOnly:
		return "DetectionOnly"
	case RuleEngineOff:
		return "Off"
	default:
		return "unknown"
	}
}

func ParseRuleEngineMode(raw string) (RuleEngineMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "":
		return RuleEngineOn, nil
	case "detectiononly", "detection_only":
		return RuleEngineDetectionOnly, nil
	case "off":
		return RuleEngineOff, nil
	default:
		return RuleEngineOn, fmt.Errorf("unknown rule engine mode %q", raw)
	}
}
