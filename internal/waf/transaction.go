package waf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/transform"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
	"github.com/veilwaf/veil/internal/variables/bodyprocessors"
)

var ErrClosed = errors.New("transaction closed")

// Header is one header line in arrival order.
type Header struct {
	Name  string
	Value string
}

// HeadersFrom flattens an http.Header in sorted key order.
func HeadersFrom(h http.Header) []Header {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var out []Header
	for _, key := range keys {
		for _, value := range h[key] {
			out = append(out, Header{Name: key, Value: value})
		}
	}
	return out
}

type Connection struct {
	ClientIP   string
	ClientPort int
	ServerIP   string
	ServerPort int
}

// PhaseData carries the raw input of one phase. Fields that do not belong
// to the phase being processed are ignored.
type PhaseData struct {
	Connection *Connection
	Method     string
	URI        string
	// Protocol is the request protocol in phase 1 and the response protocol in phase 3.
	Protocol string
	Headers  []Header
	Body     []byte
	Status   int
}

// MatchEvent records one matched value.
type MatchEvent struct {
	Seq        int
	Timestamp  time.Time
	RuleID     int
	ChainLevel int
	Phase      types.Phase
	Variable   string
	Value      string
	Capture    string
	Transforms []string
	Msg        string
	LogData    string
	Tags       []string
	Severity   types.Severity
	Disruptive bool

	Log      bool
	AuditLog bool
}

// OperatorAbort records an operator that failed to reach a result.
type OperatorAbort struct {
	RuleID   int
	Variable string
	Err      error
}

type phaseState struct {
	done    bool
	skip    bool
	outcome PhaseOutcome
}

type removedTarget struct {
	ids    []rules.IDRange
	target variables.Selector
}

// Transaction is the state of one request/response exchange. It must not be
// shared between goroutines.
type Transaction struct {
	ctx    context.Context
	engine *Engine
	id     string
	cfg    Config
	store  *variables.Store
	cache  *transform.Cache
	logger *logrus.Entry
	start  time.Time

	events   []MatchEvent
	aborts   []OperatorAbort
	inbound  int
	outbound int
	verdict  Verdict
	detected *Verdict
	phases   [types.PhaseLogging + 1]phaseState

	removedIDs     []rules.IDRange
	removedTargets []removedTarget
	capturing      bool

	requestBody      []byte
	requestBodySeen  bool
	responseBody     []byte
	responseBodySeen bool
	method           string
	uri              string
	protocol         string
	clientIP         string
	responseStatus   int

	aborted   bool
	finalized bool
	record    audit.Record
	closed    bool
}

func (tx *Transaction) ID() string {
	return tx.id
}

func (tx *Transaction) Verdict() Verdict {
	return tx.verdict
}

// DetectedVerdict is the verdict a DetectionOnly transaction would have had.
func (tx *Transaction) DetectedVerdict() (Verdict, bool) {
	if tx.detected == nil {
		return Verdict{}, false
	}
	return *tx.detected, true
}

// Interrupted reports whether the current verdict stops the request.
func (tx *Transaction) Interrupted() bool {
	return tx.verdict.Kind.Interrupts()
}

func (tx *Transaction) Scores() (inbound, outbound int) {
	return tx.inbound, tx.outbound
}

// Events returns a copy of the match log.
func (tx *Transaction) Events() []MatchEvent {
	return append([]MatchEvent(nil), tx.events...)
}

func (tx *Transaction) Aborts() []OperatorAbort {
	return append([]OperatorAbort(nil), tx.aborts...)
}

// Aborted reports whether the transaction context was cancelled mid-evaluation.
func (tx *Transaction) Aborted() bool {
	return tx.aborted
}

// Mode is the rule engine mode in effect, including ctl changes.
func (tx *Transaction) Mode() types.RuleEngineMode {
	return tx.cfg.Mode
}

// SetMode overrides the rule engine mode for this transaction only.
func (tx *Transaction) SetMode(mode types.RuleEngineMode) error {
	if tx.closed {
		return ErrClosed
	}
	tx.cfg.Mode = mode
	return nil
}

// RequestBodyLimit is the number of request body bytes inspected.
func (tx *Transaction) RequestBodyLimit() int {
	return tx.cfg.RequestBodyLimit
}

// SetRequestBodyLimit changes the inspected request body size. It must be
// called before the request body phase runs.
func (tx *Transaction) SetRequestBodyLimit(limit int) error {
	if tx.closed {
		return ErrClosed
	}
	if tx.phases[types.PhaseRequestBody].done {
		return fmt.Errorf("request body limit: %w", variables.ErrSealed)
	}
	if limit > 0 {
		tx.cfg.RequestBodyLimit = limit
	}
	return nil
}

// Variables exposes the store for reads.
func (tx *Transaction) Variables() *variables.Store {
	return tx.store
}

// ProcessConnection records the connection endpoints.
func (tx *Transaction) ProcessConnection(clientIP string, clientPort int, serverIP string, serverPort int) error {
	tx.clientIP = clientIP
	return tx.store.SetConnection(clientIP, clientPort, serverIP, serverPort)
}

// ProcessURI records the request line.
func (tx *Transaction) ProcessURI(uri, method, protocol string) error {
	tx.method, tx.uri, tx.protocol = method, uri, protocol
	return tx.store.SetRequestLine(method, uri, protocol)
}

func (tx *Transaction) AddRequestHeader(name, value string) error {
	return tx.store.AddRequestHeader(name, value)
}

// WriteRequestBody buffers request body bytes up to the configured limit.
// The body is parsed when the request body phase runs.
func (tx *Transaction) WriteRequestBody(p []byte) error {
	if tx.phases[types.PhaseRequestBody].done {
		return fmt.Errorf("request body: %w", variables.ErrSealed)
	}
	tx.requestBodySeen = true
	tx.requestBody = appendLimited(tx.requestBody, p, tx.cfg.RequestBodyLimit)
	return nil
}

func (tx *Transaction) SetResponseStatus(code int, protocol string) error {
	tx.responseStatus = code
	return tx.store.SetResponseStatus(code, protocol)
}

func (tx *Transaction) AddResponseHeader(name, value string) error {
	return tx.store.AddResponseHeader(name, value)
}

// WriteResponseBody buffers response body bytes up to the configured limit.
func (tx *Transaction) WriteResponseBody(p []byte) error {
	if tx.phases[types.PhaseResponseBody].done {
		return fmt.Errorf("response body: %w", variables.ErrSealed)
	}
	tx.responseBodySeen = true
	tx.responseBody = appendLimited(tx.responseBody, p, tx.cfg.ResponseBodyLimit)
	return nil
}

func appendLimited(dst, p []byte, limit int) []byte {
	if limit > 0 && len(dst)+len(p) > limit {
		p = p[:max(0, limit-len(dst))]
	}
	return append(dst, p...)
}

func (tx *Transaction) ProcessRequestHeaders() PhaseOutcome {
	return tx.ProcessPhase(types.PhaseRequestHeaders, nil)
}

func (tx *Transaction) ProcessRequestBody() PhaseOutcome {
	return tx.ProcessPhase(types.PhaseRequestBody, nil)
}

func (tx *Transaction) ProcessResponseHeaders() PhaseOutcome {
	return tx.ProcessPhase(types.PhaseResponseHeaders, nil)
}

func (tx *Transaction) ProcessResponseBody() PhaseOutcome {
	return tx.ProcessPhase(types.PhaseResponseBody, nil)
}

// ProcessPhase feeds data to phase p and evaluates it. Earlier phases that
// have not run yet are evaluated first without data. A phase that already
// ran returns its recorded outcome.
func (tx *Transaction) ProcessPhase(p types.Phase, data *PhaseData) PhaseOutcome {
	if !p.Valid() {
		return PhaseOutcome{Phase: p, Verdict: tx.verdict, Err: fmt.Errorf("invalid phase %d", p)}
	}
	if tx.closed {
		return PhaseOutcome{Phase: p, Verdict: tx.verdict, Err: ErrClosed}
	}
	if tx.phases[p].done {
		return tx.phases[p].outcome
	}
	for _, earlier := range types.Phases {
		if earlier >= p {
			break
		}
		if !tx.phases[earlier].done {
			tx.runPhase(earlier, nil)
		}
	}
	return tx.runPhase(p, data)
}

func (tx *Transaction) runPhase(p types.Phase, data *PhaseData) PhaseOutcome {
	started := tx.engine.now()
	outcome := PhaseOutcome{Phase: p}
	if data != nil {
		outcome.Err = tx.populate(p, data)
	}
	tx.prepare(p)

	switch {
	case tx.aborted:
		outcome.Skipped = true
		outcome.Err = errors.Join(outcome.Err, tx.ctx.Err())
	case tx.phases[p].skip:
		outcome.Skipped = true
	case tx.cfg.Mode == types.RuleEngineOff:
	default:
		outcome.Halted = tx.evaluatePhase(p)
		if tx.aborted {
			outcome.Err = errors.Join(outcome.Err, tx.ctx.Err())
		}
	}

	tx.store.Seal(p)
	outcome.Verdict = tx.verdict
	tx.phases[p].done = true
	tx.phases[p].outcome = outcome
	if !outcome.Skipped {
		tx.engine.metrics.ObservePhase(p.String(), tx.engine.now().Sub(started))
	}
	tx.logger.WithFields(logrus.Fields{
		"phase":   p.String(),
		"halted":  outcome.Halted,
		"skipped": outcome.Skipped,
		"verdict": tx.verdict.Kind.String(),
	}).Trace("phase done")
	return outcome
}

func (tx *Transaction) populate(p types.Phase, data *PhaseData) error {
	var errs []error
	switch p {
	case types.PhaseRequestHeaders:
		if c := data.Connection; c != nil {
			errs = append(errs, tx.ProcessConnection(c.ClientIP, c.ClientPort, c.ServerIP, c.ServerPort))
		}
		if data.Method != "" || data.URI != "" {
			errs = append(errs, tx.ProcessURI(data.URI, data.Method, data.Protocol))
		}
		for _, h := range data.Headers {
			errs = append(errs, tx.AddRequestHeader(h.Name, h.Value))
		}
	case types.PhaseRequestBody:
		if data.Body != nil {
			errs = append(errs, tx.WriteRequestBody(data.Body))
		}
	case types.PhaseResponseHeaders:
		if data.Status != 0 {
			errs = append(errs, tx.SetResponseStatus(data.Status, data.Protocol))
		}
		for _, h := range data.Headers {
			errs = append(errs, tx.AddResponseHeader(h.Name, h.Value))
		}
	case types.PhaseResponseBody:
		if data.Body != nil {
			errs = append(errs, tx.WriteResponseBody(data.Body))
		}
	}
	return errors.Join(errs...)
}

// prepare moves buffered bodies into the store right before their phase.
func (tx *Transaction) prepare(p types.Phase) {
	switch p {
	case types.PhaseRequestBody:
		if tx.requestBodySeen {
			tx.processRequestBody()
		}
	case types.PhaseResponseBody:
		if tx.responseBodySeen {
			if err := tx.store.SetResponseBody(tx.responseBody); err != nil {
				tx.logger.WithError(err).Warn("response body not stored")
			}
		}
	}
}

func (tx *Transaction) processRequestBody() {
	body := tx.requestBody
	errs := []error{
		tx.store.SetSingle(variables.RequestBody, string(body)),
		tx.store.SetSingle(variables.RequestBodyLength, strconv.Itoa(len(body))),
		tx.store.SetSingle(variables.ReqbodyError, "0"),
	}
	contentType, _ := tx.store.Lookup(variables.RequestHeaders, "content-type")
	if name := bodyprocessors.ForContentType(contentType); name != "" && len(body) > 0 {
		processor, _ := bodyprocessors.Get(name)
		errs = append(errs, tx.store.SetSingle(variables.ReqbodyProcessor, name))
		if err := processor.ProcessRequest(body, contentType, tx.store); err != nil {
			tx.logger.WithError(err).WithField("processor", name).Debug("request body not fully parsed")
			errs = append(errs,
				tx.store.SetSingle(variables.ReqbodyError, "1"),
				tx.store.SetSingle(variables.ReqbodyErrorMsg, err.Error()),
			)
		}
	}
	if err := errors.Join(errs...); err != nil {
		tx.logger.WithError(err).Warn("request body not stored")
	}
}

// Finalize runs the logging phase, unless the transaction was cancelled,
// and returns the audit record. Later calls return the same record.
func (tx *Transaction) Finalize() audit.Record {
	if tx.finalized {
		return tx.record
	}
	if !tx.aborted && !tx.closed {
		tx.ProcessPhase(types.PhaseLogging, nil)
	}
	tx.record = tx.buildRecord()
	tx.finalized = true

	tx.engine.metrics.ObserveTransaction(tx.verdict.Kind.String(), tx.inbound, tx.outbound)
	if tx.auditRelevant() {
		if err := tx.engine.audit.Write(tx.record); err != nil {
			tx.logger.WithError(err).Error("audit write failed")
		}
	}
	return tx.record
}

func (tx *Transaction) auditRelevant() bool {
	switch tx.cfg.AuditEngine {
	case AuditOff:
		return false
	case AuditAll:
		return true
	}
	if tx.verdict.Kind != VerdictContinue || tx.detected != nil || len(tx.aborts) > 0 {
		return true
	}
	for _, ev := range tx.events {
		if ev.AuditLog {
			return true
		}
	}
	return false
}

func (tx *Transaction) buildRecord() audit.Record {
	rec := audit.Record{
		Timestamp:      tx.start.UTC(),
		TransactionID:  tx.id,
		ClientIP:       tx.clientIP,
		Method:         tx.method,
		URI:            tx.uri,
		Protocol:       tx.protocol,
		ResponseStatus: tx.responseStatus,
		Mode:           tx.cfg.Mode.String(),
		Verdict:        tx.verdict.record(),
		InboundScore:   tx.inbound,
		OutboundScore:  tx.outbound,
		Aborted:        tx.aborted,
		Engine:         Info(),
		DurationMS:     tx.engine.now().Sub(tx.start).Milliseconds(),
	}
	if tx.detected != nil {
		detected := tx.detected.record()
		rec.DetectedVerdict = &detected
	}
	for _, p := range types.Phases {
		state := tx.phases[p]
		if state.done && !state.outcome.Skipped {
			rec.Phases = append(rec.Phases, p.String())
		}
	}
	rec.Events = make([]audit.Event, 0, len(tx.events))
	for _, ev := range tx.events {
		rec.Events = append(rec.Events, audit.Event{
			Seq:        ev.Seq,
			Timestamp:  ev.Timestamp.UTC(),
			RuleID:     ev.RuleID,
			ChainLevel: ev.ChainLevel,
			Phase:      ev.Phase.String(),
			Variable:   ev.Variable,
			Evidence:   ev.Value,
			Capture:    ev.Capture,
			Transforms: ev.Transforms,
			Msg:        ev.Msg,
			LogData:    ev.LogData,
			Tags:       ev.Tags,
			Severity:   ev.Severity.String(),
			Disruptive: ev.Disruptive,
		})
	}
	for _, a := range tx.aborts {
		rec.Aborts = append(rec.Aborts, audit.Abort{RuleID: a.RuleID, Variable: a.Variable, Error: a.Err.Error()})
	}
	return rec
}

// Close releases the transaction. It is safe to call more than once.
func (tx *Transaction) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.cache.Purge()
	tx.requestBody = nil
	tx.responseBody = nil
	return nil
}
