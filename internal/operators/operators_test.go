package operators

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	vars    map[string]string
	capture bool
}

func (s fakeState) Lookup(variable, key string) (string, bool) {
	v, ok := s.vars[strings.ToLower(variable+"."+key)]
	return v, ok
}

func (s fakeState) Capturing() bool { return s.capture }

func mustNew(t *testing.T, name, args string) Operator {
	t.Helper()
	op, err := New(name, Options{Arguments: args})
	require.NoError(t, err)
	return op
}

func TestOperatorsMatch(t *testing.T) {
	cases := []struct {
		op, args, value string
		want            bool
	}{
		{"rx", `(?i)union\s+select`, "1 UNION  SELECT x", true},
		{"rx", `^\d+$`, "12a", false},
		{"pm", "sqlmap nikto", "Mozilla sqlmap/1.5", true},
		{"pm", "sqlmap nikto", "Mozilla/5.0", false},
		{"pm", "SQLMAP", "sqlmap", true},
		{"streq", "GET", "GET", true},
		{"streq", "GET", "get", false},
		{"contains", "etc/passwd", "/../etc/passwd", true},
		{"containsWord", "select", "a select b", true},
		{"containsWord", "select", "selection", false},
		{"containsWord", "select", "xselect select", true},
		{"beginsWith", "/admin", "/admin/panel", true},
		{"endsWith", ".php", "index.php", true},
		{"within", "GET POST HEAD", "POST", true},
		{"within", "GET POST HEAD", "PUT", false},
		{"within", "GET POST", "", false},
		{"strmatch", "%{tx.x}", "literal %{tx.x} here", true},
		{"eq", "5", "5", true},
		{"ge", "5", "7", true},
		{"gt", "5", "5", false},
		{"le", "5", "abc", true},
		{"lt", "0", "-3", true},
		{"detectSQLi", "", "1' OR '1'='1", true},
		{"detectSQLi", "", "hello world", false},
		{"detectXSS", "", "<script>alert(1)</script>", true},
		{"detectXSS", "", "plain text", false},
		{"ipMatch", "10.0.0.0/8, 192.168.1.1", "10.1.2.3", true},
		{"ipMatch", "10.0.0.0/8,192.168.1.1", "192.168.1.1", true},
		{"ipMatch", "10.0.0.0/8", "::ffff:10.0.0.1", true},
		{"ipMatch", "10.0.0.0/8", "not-an-ip", false},
		{"validateByteRange", "32-126", "hello", false},
		{"validateByteRange", "32-126", "hel\x00lo", true},
		{"validateUrlEncoding", "", "a%20b", false},
		{"validateUrlEncoding", "", "a%2", true},
		{"validateUrlEncoding", "", "a%zz", true},
		{"validateUtf8Encoding", "", "h\xe9llo", true},
		{"validateUtf8Encoding", "", "héllo", false},
		{"unconditionalMatch", "", "", true},
		{"noMatch", "", "anything", false},
	}
	for _, tc := range cases {
		t.Run(tc.op+"/"+tc.value, func(t *testing.T) {
			res := mustNew(t, tc.op, tc.args).Evaluate(nil, tc.value)
			require.NoError(t, res.Err)
			assert.Equal(t, tc.want, res.Matched)
		})
	}
}

func TestMacroArguments(t *testing.T) {
	state := fakeState{vars: map[string]string{"tx.inbound_anomaly_score_threshold": "5"}}

	op := mustNew(t, "ge", "%{tx.inbound_anomaly_score_threshold}")
	assert.True(t, op.Evaluate(state, "5").Matched)
	assert.False(t, op.Evaluate(state, "4").Matched)

	// An unresolved reference expands to empty, which compares as 0.
	op = mustNew(t, "eq", "%{tx.missing}")
	assert.True(t, op.Evaluate(state, "0").Matched)
}

func TestParseMacro(t *testing.T) {
	m := ParseMacro("score=%{tx.score} host=%{REQUEST_HEADERS.host} %{broken")
	assert.False(t, m.Static())
	state := fakeState{vars: map[string]string{"tx.score": "7", "request_headers.host": "example.com"}}
	assert.Equal(t, "score=7 host=example.com %{broken", m.Expand(state))

	assert.True(t, ParseMacro("plain").Static())
}

func TestCaptures(t *testing.T) {
	capture := fakeState{capture: true}

	res := mustNew(t, "rx", `id=(\d+)&name=(\w+)`).Evaluate(capture, "id=42&name=bob")
	require.True(t, res.Matched)
	assert.Equal(t, []string{"id=42&name=bob", "42", "bob"}, res.Captures)

	res = mustNew(t, "rx", `(\d+)`).Evaluate(nil, "42")
	assert.True(t, res.Matched)
	assert.Empty(t, res.Captures)

	res = mustNew(t, "pm", "nikto sqlmap").Evaluate(capture, "ua SQLMap/1.0")
	assert.Equal(t, []string{"SQLMap"}, res.Captures)

	res = mustNew(t, "detectSQLi", "").Evaluate(capture, "1' OR '1'='1")
	require.True(t, res.Matched)
	require.Len(t, res.Captures, 1)
	assert.NotEmpty(t, res.Captures[0])
}

func TestPathologicalRegexTimesOut(t *testing.T) {
	op, err := New("rx", Options{Arguments: `^(a+)+$`, MatchTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	res := op.Evaluate(nil, strings.Repeat("a", 40)+"!")
	elapsed := time.Since(start)

	assert.False(t, res.Matched)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestPhraseFileOperator(t *testing.T) {
	op, err := New("pmFromFile", Options{Data: []string{"union select", " ", "sleep("}})
	require.NoError(t, err)
	assert.True(t, op.Evaluate(nil, "1 AND SLEEP(5)").Matched)
}

func TestParseIntClamps(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: " 42abc", want: 42},
		{raw: "-7", want: -7},
		{raw: "+3", want: 3},
		{raw: "abc", want: 0},
		{raw: "-", want: 0},
		{raw: "99999999999999999999", want: math.MaxInt},
		{raw: "-99999999999999999999", want: math.MinInt},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInt(tt.raw))
		})
	}

	assert.Equal(t, math.MaxInt, AddInt(math.MaxInt, 1))
	assert.Equal(t, math.MinInt, AddInt(math.MinInt, -1))
	assert.Equal(t, math.MaxInt, SubInt(0, math.MinInt))
	assert.Equal(t, math.MinInt, SubInt(math.MinInt, 1))
	assert.Equal(t, 2, SubInt(5, 3))

	assert.True(t, mustNew(t, "gt", "5").Evaluate(nil, "99999999999999999999").Matched)
	assert.False(t, mustNew(t, "lt", "0").Evaluate(nil, "99999999999999999999").Matched)
}

func TestConstructionErrors(t *testing.T) {
	cases := map[string]Options{
		"rx":                {Arguments: "(unclosed"},
		"pm":                {Arguments: "   "},
		"pmf":               {},
		"ipMatch":           {Arguments: "300.1.1.1"},
		"validateByteRange": {Arguments: "10-300"},
		"nope":              {},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(name, opts)
			assert.Error(t, err)
		})
	}
}

func TestLookupIgnoresAtPrefixAndCase(t *testing.T) {
	_, ok := Get("@RX")
	assert.True(t, ok)
	_, ok = Get("detectsqli")
	assert.True(t, ok)
}
