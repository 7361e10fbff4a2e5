package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilwaf/veil/internal/operators"
	"github.com/veilwaf/veil/internal/types"
)

func match(t *testing.T) RuleOperator {
	t.Helper()
	op, err := operators.New("unconditionalMatch", operators.Options{})
	require.NoError(t, err)
	return RuleOperator{Name: "unconditionalMatch", Op: op}
}

func TestNewRuleSetBuildsChainsAndPhases(t *testing.T) {
	deny, err := ParseAction("deny", "")
	require.NoError(t, err)

	defs := []*Rule{
		{ID: 10, Phase: types.PhaseRequestHeaders, Operator: match(t), Chained: true, Actions: []Action{deny}},
		{Operator: match(t), Chained: true},
		{Operator: match(t)},
		{Marker: "END_HEADERS"},
		{ID: 20, Phase: types.PhaseRequestBody, Operator: match(t)},
	}
	rs, err := NewRuleSet(defs)
	require.NoError(t, err)

	assert.Equal(t, 5, rs.Len())
	assert.Equal(t, []int{10, 20}, rs.IDs())
	assert.Equal(t, []int{0, 3}, rs.Phase(types.PhaseRequestHeaders))
	assert.Equal(t, []int{3, 4}, rs.Phase(types.PhaseRequestBody))

	child, ok := rs.Next(0)
	require.True(t, ok)
	assert.Equal(t, 1, child)
	assert.Equal(t, 10, rs.At(child).HeadID())
	assert.Equal(t, types.PhaseRequestHeaders, rs.At(child).Phase)
	grandchild, ok := rs.Next(child)
	require.True(t, ok)
	assert.Equal(t, 2, rs.At(grandchild).Level())
	_, ok = rs.Next(grandchild)
	assert.False(t, ok)

	pos, ok := rs.MarkerPosition(types.PhaseRequestHeaders, "END_HEADERS")
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	r, ok := rs.Lookup(20)
	require.True(t, ok)
	assert.Equal(t, types.PhaseRequestBody, r.Phase)
}

func TestNewRuleSetIsDeterministic(t *testing.T) {
	build := func() []*Rule {
		return []*Rule{
			{ID: 3, Phase: types.PhaseRequestHeaders, Operator: match(t)},
			{ID: 1, Phase: types.PhaseResponseHeaders, Operator: match(t)},
			{ID: 2, Phase: types.PhaseRequestHeaders, Operator: match(t)},
		}
	}
	a, err := NewRuleSet(build())
	require.NoError(t, err)
	b, err := NewRuleSet(build())
	require.NoError(t, err)

	assert.Equal(t, a.IDs(), b.IDs())
	for _, p := range types.Phases {
		assert.Equal(t, a.Phase(p), b.Phase(p))
	}
}

func TestNewRuleSetAggregatesProblems(t *testing.T) {
	skip, err := ParseAction("skipAfter", "MISSING")
	require.NoError(t, err)
	deny, _ := ParseAction("deny", "")

	defs := []*Rule{
		{ID: 1, Phase: types.PhaseRequestHeaders, Operator: match(t)},
		{ID: 1, Phase: types.PhaseRequestHeaders, Operator: match(t)},
		{Phase: types.PhaseRequestHeaders, Operator: match(t)},
		{ID: 2, Phase: types.PhaseRequestHeaders, Operator: match(t), Actions: []Action{skip}},
		{ID: 3, Phase: types.PhaseRequestHeaders, Operator: match(t), Chained: true},
		{Operator: match(t), Actions: []Action{deny}},
		{ID: 4, Operator: match(t)},
		{ID: 5, Phase: types.PhaseRequestHeaders, Operator: match(t), Chained: true},
	}
	rs, err := NewRuleSet(defs)
	require.Error(t, err)
	assert.Nil(t, rs)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, []string{
		"rule 1 is duplicated",
		"rule 2 skipAfter marker \"MISSING\" does not exist",
		"rule 3 chain link 1 has a disruptive action",
		"rule 4 has invalid phase 0",
		"rule 5 chain is dangling",
		"rule at position 2 has no id",
	}, loadErr.Problems)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("deny", "")
	require.NoError(t, err)
	assert.Equal(t, 403, a.Status)
	assert.True(t, a.Kind.Disruptive())

	a, err = ParseAction("redirect", "https://example.com/blocked")
	require.NoError(t, err)
	assert.Equal(t, 302, a.Status)

	a, err = ParseAction("allow", "request")
	require.NoError(t, err)
	assert.Equal(t, AllowRequest, a.Scope)

	a, err = ParseAction("score", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, a.Score)
	assert.False(t, a.Kind.Disruptive())

	for _, bad := range [][2]string{
		{"skip", "0"}, {"deny", "99"}, {"allow", "forever"}, {"setvar", "ip.x=1"}, {"teleport", ""},
	} {
		_, err := ParseAction(bad[0], bad[1])
		assert.Error(t, err, "%s:%s", bad[0], bad[1])
	}
}

func TestParseSetVar(t *testing.T) {
	sv, err := ParseSetVar("tx.score=+%{tx.weight}")
	require.NoError(t, err)
	assert.Equal(t, SetVarAdd, sv.Op)
	assert.Equal(t, "score", sv.Key.String())
	assert.Equal(t, "%{tx.weight}", sv.Value.String())

	sv, err = ParseSetVar("!TX.flag")
	require.NoError(t, err)
	assert.Equal(t, SetVarDelete, sv.Op)

	sv, err = ParseSetVar("tx.seen")
	require.NoError(t, err)
	assert.Equal(t, SetVarAssign, sv.Op)
	assert.Equal(t, "1", sv.Value.String())
}

func TestParseCtl(t *testing.T) {
	ctl, err := ParseCtl("ruleEngine=DetectionOnly")
	require.NoError(t, err)
	assert.Equal(t, types.RuleEngineDetectionOnly, ctl.Mode)

	ctl, err = ParseCtl("ruleRemoveById=100-200 300")
	require.NoError(t, err)
	require.Len(t, ctl.IDs, 2)
	assert.True(t, ctl.IDs[0].Contains(150))
	assert.True(t, ctl.IDs[1].Contains(300))
	assert.False(t, ctl.IDs[1].Contains(301))

	ctl, err = ParseCtl("ruleRemoveTargetById=942100;ARGS:password")
	require.NoError(t, err)
	assert.Equal(t, "ARGS:password", ctl.Target.String())

	_, err = ParseCtl("ruleRemoveById=300-100")
	assert.Error(t, err)
}
