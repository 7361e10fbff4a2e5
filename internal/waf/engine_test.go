package waf

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilwaf/veil/internal/observability"
	"github.com/veilwaf/veil/internal/rules"
	"github.com/veilwaf/veil/internal/types"
)

func TestNewEngineRequiresRuleSet(t *testing.T) {
	_, err := NewEngine(nil)
	require.Error(t, err)
}

func TestNewTransactionSeedsThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboundThreshold = 10
	h := newHarness(t, cfg)
	tx := h.tx()
	defer tx.Close()

	assert.Equal(t, "10", txValue(tx, InboundThresholdKey))
	assert.Equal(t, "4", txValue(tx, OutboundThresholdKey))
	assert.Equal(t, "0", txValue(tx, InboundScoreKey))
	assert.Equal(t, uint64(1), h.engine.Transactions())

	_, err := uuid.Parse(tx.ID())
	assert.NoError(t, err)
	assert.NotEqual(t, tx.ID(), h.tx().ID())
}

func TestUUIDGeneratorIsSeeded(t *testing.T) {
	a, b := NewUUIDGenerator(7), NewUUIDGenerator(7)
	for i := 0; i < 3; i++ {
		assert.Equal(t, a.NewID(), b.NewID())
	}
}

func TestUUIDGeneratorIsConcurrencySafe(t *testing.T) {
	gen := NewUUIDGenerator(1)
	var (
		mu   sync.Mutex
		seen = map[string]struct{}{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.NewID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestInfo(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^Veil v\d+\.\d+\.\d+ \(.+\)$`), Info())
	assert.Equal(t, "Linux", platform("linux"))
	assert.Equal(t, "MacOSX", platform("darwin"))
	assert.Equal(t, "Unknown platform", platform("plan9"))
}

func TestRuleSetLoadsIdentically(t *testing.T) {
	build := func() []int {
		rs, err := rules.NewRuleSet([]*rules.Rule{
			scannerRule(t),
			rule(t, 2, types.PhaseRequestHeaders, "", "@unconditionalMatch", "chain"),
			rule(t, 0, types.PhaseRequestHeaders, "", "@unconditionalMatch"),
			thresholdRule(t),
		})
		require.NoError(t, err)
		return rs.IDs()
	}
	assert.Equal(t, []int{913100, 2, 949110}, build())
	assert.Equal(t, build(), build())
}

func TestEngineObservesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	rs, err := rules.NewRuleSet([]*rules.Rule{scannerRule(t), thresholdRule(t)})
	require.NoError(t, err)
	engine, err := NewEngine(rs, WithMetrics(metrics))
	require.NoError(t, err)

	tx := engine.NewTransaction(context.Background())
	tx.ProcessPhase(types.PhaseRequestHeaders, getRequest("/", HeadersFrom(http.Header{"User-Agent": {"sqlmap"}})...))
	tx.Finalize()
	require.NoError(t, tx.Close())

	count, err := testutil.GatherAndCount(reg, "veil_transactions_total", "veil_rule_matches_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestHeadersFromSortsKeys(t *testing.T) {
	headers := HeadersFrom(http.Header{
		"X-B":    {"2"},
		"Accept": {"a", "b"},
	})
	assert.Equal(t, []Header{
		{Name: "Accept", Value: "a"},
		{Name: "Accept", Value: "b"},
		{Name: "X-B", Value: "2"},
	}, headers)
}

func TestParsePolicies(t *testing.T) {
	policy, err := ParseDisruptivePolicy("continue_phases")
	require.NoError(t, err)
	assert.Equal(t, ContinuePhases, policy)
	_, err = ParseDisruptivePolicy("later")
	assert.Error(t, err)

	engine, err := ParseAuditEngine("all")
	require.NoError(t, err)
	assert.Equal(t, AuditAll, engine)
	_, err = ParseAuditEngine("sometimes")
	assert.Error(t, err)
}
