package audit

import "time"

// Record is written once per transaction when it is finalized.
type Record struct {
	Timestamp      time.Time `json:"ts"`
	TransactionID  string    `json:"tx_id"`
	ClientIP       string    `json:"client_ip,omitempty"`
	Method         string    `json:"method,omitempty"`
	URI            string    `json:"uri,omitempty"`
	Protocol       string    `json:"protocol,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty"`
	Mode           string    `json:"mode"`

	Verdict         Verdict  `json:"verdict"`
	DetectedVerdict *Verdict `json:"detected_verdict,omitempty"`
	InboundScore    int      `json:"inbound_score"`
	OutboundScore   int      `json:"outbound_score"`

	Events  []Event  `json:"events"`
	Aborts  []Abort  `json:"aborts,omitempty"`
	Phases  []string `json:"phases"`
	Aborted bool     `json:"aborted,omitempty"`

	Engine     string `json:"engine"`
	DurationMS int64  `json:"duration_ms"`
}

type Verdict struct {
	Action      string `json:"action"`
	Status      int    `json:"status,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	RuleID      int    `json:"rule_id,omitempty"`
	Phase       string `json:"phase,omitempty"`
}

// Event mirrors one match recorded during evaluation.
type Event struct {
	Seq        int       `json:"seq"`
	Timestamp  time.Time `json:"ts"`
	RuleID     int       `json:"rule_id"`
	ChainLevel int       `json:"chain_level,omitempty"`
	Phase      string    `json:"phase"`
	Variable   string    `json:"variable,omitempty"`
	Evidence   string    `json:"evidence,omitempty"`
	Capture    string    `json:"capture,omitempty"`
	Transforms []string  `json:"transforms,omitempty"`
	Msg        string    `json:"msg,omitempty"`
	LogData    string    `json:"logdata,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Disruptive bool      `json:"disruptive,omitempty"`
}

type Abort struct {
	RuleID   int    `json:"rule_id"`
	Variable string `json:"variable,omitempty"`
	Error    string `json:"error"`
}

// Writer persists audit records.
type Writer interface {
	Write(Record) error
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(Record) error { return nil }
