package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/veilwaf/veil/internal/audit"
)

const topN = 5

type Summary struct {
	Total       int            `json:"total"`
	Passed      int            `json:"passed"`
	Interrupted int            `json:"interrupted"`
	Allowed     int            `json:"allowed"`
	Detected    int            `json:"detected"`
	Aborted     int            `json:"aborted"`
	Timeouts    int            `json:"operator_aborts"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Verdicts    []CountItem    `json:"verdicts"`
	TopRules    []CountItem    `json:"top_rules"`
	TopBlocking []CountItem    `json:"top_blocking_rules"`
	TopTags     []CountItem    `json:"top_tags"`
	TopClients  []CountItem    `json:"top_blocked_clients"`
	Score       ScoreSummary   `json:"inbound_score"`
	Latency     LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type ScoreSummary struct {
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Reader loads audit records. Records older than Since are dropped; RuleID
// and Verdicts, when set, keep only records with a matching event or
// verdict action.
type Reader struct {
	Since    time.Time
	RuleID   int
	Verdicts []string
}

func (r *Reader) Read(path string) ([]audit.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := audit.ReadJSONL(file, r.Since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r.filter(records), nil
}

func (r *Reader) filter(records []audit.Record) []audit.Record {
	if r.RuleID == 0 && len(r.Verdicts) == 0 {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if len(r.Verdicts) > 0 && !containsFold(r.Verdicts, rec.Verdict.Action) {
			continue
		}
		if r.RuleID != 0 && !hasRule(rec, r.RuleID) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func hasRule(rec audit.Record, id int) bool {
	if rec.Verdict.RuleID == id {
		return true
	}
	for _, ev := range rec.Events {
		if ev.RuleID == id {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

func interrupting(action string) bool {
	switch action {
	case "block", "deny", "redirect":
		return true
	}
	return false
}

func Summarize(records []audit.Record) Summary {
	var summary Summary
	if len(records) == 0 {
		return summary
	}

	summary.Start = records[0].Timestamp
	summary.End = records[0].Timestamp

	verdictCounts := map[string]int{}
	ruleCounts := map[string]int{}
	blockingCounts := map[string]int{}
	tagCounts := map[string]int{}
	clientCounts := map[string]int{}
	latencies := make([]int64, 0, len(records))
	scoreTotal := 0

	for _, rec := range records {
		summary.Total++
		if rec.Timestamp.Before(summary.Start) {
			summary.Start = rec.Timestamp
		}
		if rec.Timestamp.After(summary.End) {
			summary.End = rec.Timestamp
		}

		action := rec.Verdict.Action
		verdictCounts[action]++
		switch {
		case interrupting(action):
			summary.Interrupted++
			blockingCounts[strconv.Itoa(rec.Verdict.RuleID)]++
			if rec.ClientIP != "" {
				clientCounts[rec.ClientIP]++
			}
		case action == "allow":
			summary.Allowed++
		default:
			summary.Passed++
		}
		if rec.DetectedVerdict != nil {
			summary.Detected++
		}
		if rec.Aborted {
			summary.Aborted++
		}
		summary.Timeouts += len(rec.Aborts)

		seen := map[int]bool{}
		for _, ev := range rec.Events {
			if !seen[ev.RuleID] {
				seen[ev.RuleID] = true
				ruleCounts[strconv.Itoa(ev.RuleID)]++
			}
			for _, tag := range ev.Tags {
				tagCounts[tag]++
			}
		}

		if rec.InboundScore > summary.Score.Max {
			summary.Score.Max = rec.InboundScore
		}
		scoreTotal += rec.InboundScore
		latencies = append(latencies, rec.DurationMS)
	}

	summary.Verdicts = topCounts(verdictCounts, len(verdictCounts))
	summary.TopRules = topCounts(ruleCounts, topN)
	summary.TopBlocking = topCounts(blockingCounts, topN)
	summary.TopTags = topCounts(tagCounts, topN)
	summary.TopClients = topCounts(clientCounts, topN)
	summary.Score.Mean = float64(scoreTotal) / float64(summary.Total)
	summary.Latency = latencySummary(latencies)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transactions: %d\n", summary.Total)
	fmt.Fprintf(&b, "Interrupted: %d\n", summary.Interrupted)
	fmt.Fprintf(&b, "Allowed: %d\n", summary.Allowed)
	fmt.Fprintf(&b, "Passed: %d\n", summary.Passed)
	fmt.Fprintf(&b, "Detected only: %d\n", summary.Detected)
	fmt.Fprintf(&b, "Cancelled: %d\n", summary.Aborted)
	fmt.Fprintf(&b, "Operator aborts: %d\n", summary.Timeouts)
	fmt.Fprintf(&b, "Inbound score max/mean: %d/%.1f\n", summary.Score.Max, summary.Score.Mean)
	fmt.Fprintf(&b, "Duration p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Verdicts", summary.Verdicts)
	writeCounts(&b, "Top matched rules", summary.TopRules)
	writeCounts(&b, "Top blocking rules", summary.TopBlocking)
	writeCounts(&b, "Top tags", summary.TopTags)
	writeCounts(&b, "Top blocked clients", summary.TopClients)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Veil Report\n\n")
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "%s to %s\n\n", summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339))
	}
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Transactions: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Interrupted: %d\n", summary.Interrupted)
	fmt.Fprintf(&b, "- Allowed: %d\n", summary.Allowed)
	fmt.Fprintf(&b, "- Passed: %d\n", summary.Passed)
	fmt.Fprintf(&b, "- Detected only: %d\n", summary.Detected)
	fmt.Fprintf(&b, "- Cancelled: %d\n", summary.Aborted)
	fmt.Fprintf(&b, "- Operator aborts: %d\n", summary.Timeouts)
	fmt.Fprintf(&b, "- Inbound score max/mean: %d/%.1f\n", summary.Score.Max, summary.Score.Mean)
	fmt.Fprintf(&b, "- Duration p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Verdicts", summary.Verdicts)
	writeCountsMarkdown(&b, "Top matched rules", summary.TopRules)
	writeCountsMarkdown(&b, "Top blocking rules", summary.TopBlocking)
	writeCountsMarkdown(&b, "Top tags", summary.TopTags)
	writeCountsMarkdown(&b, "Top blocked clients", summary.TopClients)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes content to path, or to w when path is empty.
func WriteOutput(w io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(w, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
