package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/waf"
)

// fixtureFile is a list of transactions replayed against the rule set.
type fixtureFile struct {
	Transactions []fixture `yaml:"transactions"`
}

type fixture struct {
	Name     string           `yaml:"name"`
	Request  fixtureRequest   `yaml:"request"`
	Response *fixtureResponse `yaml:"response"`
	Expect   expectation      `yaml:"expect"`

	source string
}

type fixtureRequest struct {
	ClientIP string            `yaml:"clientIP"`
	Method   string            `yaml:"method"`
	URI      string            `yaml:"uri"`
	Protocol string            `yaml:"protocol"`
	Headers  map[string]string `yaml:"headers"`
	Body     string            `yaml:"body"`
}

type fixtureResponse struct {
	Status  int               `yaml:"status"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
}

type expectation struct {
	Verdict      string `yaml:"verdict"`
	RuleID       int    `yaml:"ruleID"`
	InboundScore *int   `yaml:"inboundScore"`
	Matched      []int  `yaml:"matched"`
	NotMatched   []int  `yaml:"notMatched"`
}

type checkResult struct {
	Name     string
	Source   string
	Failures []string
}

func newCheckCmd() *cobra.Command {
	var configPath string
	var parallel int

	cmd := &cobra.Command{
		Use:   "check [fixture files]",
		Short: "Replay transaction fixtures against the configured rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			fixtures, err := loadFixtures(args)
			if err != nil {
				return err
			}

			for _, id := range ruleIDs(fixtures) {
				if _, ok := engine.Rules().Lookup(id); !ok {
					logger.WithField("rule_id", id).Warn("fixtures reference an unknown rule")
				}
			}

			results, err := runChecks(cmd.Context(), engine, fixtures, parallel)
			if err != nil {
				return err
			}
			failed := 0
			out := cmd.OutOrStdout()
			for _, res := range results {
				if len(res.Failures) == 0 {
					fmt.Fprintf(out, "PASS %s\n", res.Name)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL %s (%s): %s\n", res.Name, res.Source, strings.Join(res.Failures, "; "))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&parallel, "parallel", runtime.NumCPU(), "Number of fixtures replayed at once")

	return cmd
}

func loadFixtures(paths []string) ([]fixture, error) {
	var fixtures []fixture
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixtures: %w", err)
		}
		var file fixtureFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
		}
		for i, fx := range file.Transactions {
			if fx.Name == "" {
				fx.Name = fmt.Sprintf("%s#%d", path, i)
			}
			fx.source = path
			fixtures = append(fixtures, fx)
		}
	}
	return fixtures, nil
}

// runChecks replays every fixture on its own transaction. Results keep the
// fixture order.
func runChecks(ctx context.Context, engine *waf.Engine, fixtures []fixture, parallel int) ([]checkResult, error) {
	results := make([]checkResult, len(fixtures))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i := range fixtures {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = replay(ctx, engine, fixtures[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func replay(ctx context.Context, engine *waf.Engine, fx fixture) checkResult {
	tx := engine.NewTransaction(ctx)
	defer func() { _ = tx.Close() }()

	req := fx.Request
	method := req.Method
	if method == "" {
		method = "GET"
	}
	protocol := req.Protocol
	if protocol == "" {
		protocol = "HTTP/1.1"
	}
	uri := req.URI
	if uri == "" {
		uri = "/"
	}

	tx.ProcessPhase(types.PhaseRequestHeaders, &waf.PhaseData{
		Connection: &waf.Connection{ClientIP: req.ClientIP},
		Method:     method,
		URI:        uri,
		Protocol:   protocol,
		Headers:    sortedHeaders(req.Headers),
	})
	tx.ProcessPhase(types.PhaseRequestBody, &waf.PhaseData{Body: bodyBytes(req.Body)})
	if resp := fx.Response; resp != nil {
		tx.ProcessPhase(types.PhaseResponseHeaders, &waf.PhaseData{
			Status:   resp.Status,
			Protocol: protocol,
			Headers:  sortedHeaders(resp.Headers),
		})
		tx.ProcessPhase(types.PhaseResponseBody, &waf.PhaseData{Body: bodyBytes(resp.Body)})
	}
	rec := tx.Finalize()

	res := checkResult{Name: fx.Name, Source: fx.source}
	fail := func(format string, args ...any) {
		res.Failures = append(res.Failures, fmt.Sprintf(format, args...))
	}

	want := fx.Expect
	if want.Verdict != "" && !strings.EqualFold(want.Verdict, rec.Verdict.Action) {
		fail("verdict %s, want %s", rec.Verdict.Action, want.Verdict)
	}
	if want.RuleID != 0 && rec.Verdict.RuleID != want.RuleID {
		fail("verdict rule %d, want %d", rec.Verdict.RuleID, want.RuleID)
	}
	if want.InboundScore != nil && rec.InboundScore != *want.InboundScore {
		fail("inbound score %d, want %d", rec.InboundScore, *want.InboundScore)
	}

	matched := map[int]bool{}
	for _, ev := range tx.Events() {
		matched[ev.RuleID] = true
	}
	for _, id := range want.Matched {
		if !matched[id] {
			fail("rule %d did not match", id)
		}
	}
	for _, id := range want.NotMatched {
		if matched[id] {
			fail("rule %d matched", id)
		}
	}
	return res
}

func sortedHeaders(headers map[string]string) []waf.Header {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]waf.Header, 0, len(names))
	for _, name := range names {
		out = append(out, waf.Header{Name: name, Value: headers[name]})
	}
	return out
}

func bodyBytes(body string) []byte {
	if body == "" {
		return nil
	}
	return []byte(body)
}

// ruleIDs lists the distinct rule IDs in the fixtures' expectations.
func ruleIDs(fixtures []fixture) []int {
	var ids []int
	for _, fx := range fixtures {
		for _, id := range append(append([]int{fx.Expect.RuleID}, fx.Expect.Matched...), fx.Expect.NotMatched...) {
			if id != 0 && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}
