package waf

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/audit"
	"github.com/veilwaf/veil/internal/observability"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/transform"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/variables"
)

const (
	defaultInboundThreshold  = 5
	defaultOutboundThreshold = 4
	defaultRequestBodyLimit  = 1 << 20
	defaultResponseBodyLimit = 512 << 10
)

// TX keys the engine maintains.
const (
	InboundScoreKey      = "inbound_anomaly_score"
	OutboundScoreKey     = "outbound_anomaly_score"
	InboundThresholdKey  = "inbound_anomaly_score_threshold"
	OutboundThresholdKey = "outbound_anomaly_score_threshold"
)

// Config is the engine configuration. Every transaction works on its own copy.
type Config struct {
	Mode             types.RuleEngineMode
	DisruptivePolicy DisruptivePolicy
	AuditEngine      AuditEngine

	InboundThreshold  int
	OutboundThreshold int
	// SeverityWeights is the score added per severity. It is shared between
	// copies and must not be modified after NewEngine.
	SeverityWeights map[types.Severity]int

	RequestBodyLimit  int
	ResponseBodyLimit int
	// TransformCacheSize bounds the per-transaction transformation cache.
	TransformCacheSize int
}

func DefaultConfig() Config {
	return Config{
		Mode:               types.RuleEngineOn,
		DisruptivePolicy:   SkipToLogging,
		AuditEngine:        AuditRelevantOnly,
		InboundThreshold:   defaultInboundThreshold,
		OutboundThreshold:  defaultOutboundThreshold,
		SeverityWeights:    DefaultSeverityWeights(),
		RequestBodyLimit:   defaultRequestBodyLimit,
		ResponseBodyLimit:  defaultResponseBodyLimit,
		TransformCacheSize: transform.DefaultCacheSize,
	}
}

// DefaultSeverityWeights returns the usual anomaly weights.
func DefaultSeverityWeights() map[types.Severity]int {
	return map[types.Severity]int{
		types.SeverityCritical: 5,
		types.SeverityError:    4,
		types.SeverityWarning:  3,
		types.SeverityNotice:   2,
	}
}

func (c Config) weight(s types.Severity) int {
	return c.SeverityWeights[s]
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

func WithAuditWriter(w audit.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.audit = w
		}
	}
}

// WithClock replaces time.Now for event timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine holds the shared, read-only state. It is safe for concurrent use;
// transactions are not.
type Engine struct {
	rules   *rules.RuleSet
	cfg     Config
	logger  *logrus.Entry
	metrics *observability.Metrics
	ids     IDGenerator
	audit   audit.Writer
	now     func() time.Time

	transactions atomic.Uint64
}

// NewEngine binds a validated RuleSet to the engine configuration.
func NewEngine(rs *rules.RuleSet, opts ...Option) (*Engine, error) {
	if rs == nil {
		return nil, errors.New("ruleset is required")
	}
	e := &Engine{
		rules:  rs,
		cfg:    DefaultConfig(),
		logger: logrus.NewEntry(logrus.StandardLogger()).WithField("component", "waf"),
		audit:  audit.Discard{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		e.ids = NewUUIDGenerator(0)
	}
	if e.cfg.SeverityWeights == nil {
		e.cfg.SeverityWeights = DefaultSeverityWeights()
	}
	if e.cfg.TransformCacheSize <= 0 {
		e.cfg.TransformCacheSize = transform.DefaultCacheSize
	}
	e.logger.WithFields(logrus.Fields{
		"rules": len(rs.IDs()),
		"mode":  e.cfg.Mode.String(),
	}).Debug("engine ready")
	return e, nil
}

func (e *Engine) Rules() *rules.RuleSet {
	return e.rules
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Transactions counts the transactions started so far.
func (e *Engine) Transactions() uint64 {
	return e.transactions.Load()
}

// NewTransaction starts a transaction bound to ctx. The context is checked
// before every rule.
func (e *Engine) NewTransaction(ctx context.Context) *Transaction {
	if ctx == nil {
		ctx = context.Background()
	}
	e.transactions.Add(1)
	id := e.ids.NewID()
	tx := &Transaction{
		ctx:    ctx,
		engine: e,
		id:     id,
		cfg:    e.cfg,
		store:  variables.NewStore(),
		cache:  transform.NewCache(e.cfg.TransformCacheSize),
		logger: e.logger.WithField("tx_id", id),
		start:  e.now(),
	}
	_ = tx.store.SetSingle(variables.UniqueID, id)
	_ = tx.store.Set(variables.TX, InboundThresholdKey, strconv.Itoa(tx.cfg.InboundThreshold))
	_ = tx.store.Set(variables.TX, OutboundThresholdKey, strconv.Itoa(tx.cfg.OutboundThreshold))
	tx.mirrorScores()
	return tx
}
