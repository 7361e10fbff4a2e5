package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase is one of the ordered evaluation stages of a transaction.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseRequestHeaders
	PhaseRequestBody
	PhaseResponseHeaders
	PhaseResponseBody
	PhaseLogging
)

// Phases lists every evaluation phase in scheduling order.
var Phases = []Phase{
	PhaseRequestHeaders,
	PhaseRequestBody,
	PhaseResponseHeaders,
	PhaseResponseBody,
	PhaseLogging,
}

func (p Phase) String() string {
	switch p {
	case PhaseRequestHeaders:
		return "request_headers"
	case PhaseRequestBody:
		return "request_body"
	case PhaseResponseHeaders:
		return "response_headers"
	case PhaseResponseBody:
		return "response_body"
	case PhaseLogging:
		return "logging"
	default:
		return "unknown"
	}
}

func (p Phase) Valid() bool {
	return p >= PhaseRequestHeaders && p <= PhaseLogging
}

// IsRequest reports whether the phase inspects the inbound half of the transaction.
func (p Phase) IsRequest() bool {
	return p == PhaseRequestHeaders || p == PhaseRequestBody
}

// ParsePhase accepts either the numeric form ("1".."5") or the named form.
func ParsePhase(raw string) (Phase, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(value); err == nil {
		p := Phase(n)
		if !p.Valid() {
			return PhaseUnknown, fmt.Errorf("phase %d out of range", n)
		}
		return p, nil
	}

	switch value {
	case "request_headers", "request":
		return PhaseRequestHeaders, nil
	case "request_body":
		return PhaseRequestBody, nil
	case "response_headers", "response":
		return PhaseResponseHeaders, nil
	case "response_body":
		return PhaseResponseBody, nil
	case "logging":
		return PhaseLogging, nil
	default:
		return PhaseUnknown, fmt.Errorf("unknown phase %q", raw)
	}
}
