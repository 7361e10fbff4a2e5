package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriterTruncatesAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	writer := NewJSONLWriter(&buf)

	record := Record{
		Timestamp:     time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		TransactionID: "tx-1",
		Verdict:       Verdict{Action: "block", Status: 403, RuleID: 949110},
		Events: []Event{
			{Seq: 1, RuleID: 1, Variable: "ARGS:q", Evidence: strings.Repeat("a", 100)},
			{Seq: 2, RuleID: 2, Variable: "REQUEST_HEADERS:Authorization", Evidence: "Basic Zm9vOmJhcg=="},
			{Seq: 3, RuleID: 3, Variable: "QUERY_STRING", Evidence: "user=bob&password=hunter2", LogData: "token=abc"},
		},
	}
	require.NoError(t, writer.Write(record))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var parsed Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &parsed))
	require.Len(t, parsed.Events, 3)
	assert.Len(t, parsed.Events[0].Evidence, MaxEvidence)
	assert.Equal(t, "<redacted>", parsed.Events[1].Evidence)
	assert.Equal(t, "user=bob&password=<redacted>", parsed.Events[2].Evidence)
	assert.Equal(t, "token=<redacted>", parsed.Events[2].LogData)
	assert.Equal(t, 949110, parsed.Verdict.RuleID)

	// The caller's record is left untouched.
	assert.Len(t, record.Events[0].Evidence, 100)
}

func TestRedactBearer(t *testing.T) {
	assert.Equal(t, "auth: bearer <redacted>", RedactSecrets("auth: Bearer eyJhbGciOi.x-y_z/="))
}

func TestReadJSONLRoundTripsAndFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	writer, closeFn, err := OpenJSONL(path)
	require.NoError(t, err)

	old := time.Unix(100, 0).UTC()
	recent := time.Unix(200, 0).UTC()
	require.NoError(t, writer.Write(Record{Timestamp: old, TransactionID: "a"}))
	require.NoError(t, writer.Write(Record{Timestamp: recent, TransactionID: "b"}))
	require.NoError(t, closeFn())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := ReadJSONL(file, time.Unix(150, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].TransactionID)
}

func TestReadJSONLReportsBadLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{}\nnot-json\n"), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
