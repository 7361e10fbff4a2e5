package operators

import (
	"errors"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

func init() {
	Register("pm", func(opts Options) (Operator, error) {
		return newPhraseMatch(strings.Fields(opts.Arguments))
	})
	pmf := func(opts Options) (Operator, error) {
		return newPhraseMatch(opts.Data)
	}
	Register("pmf", pmf)
	Register("pmFromFile", pmf)
}

// phraseMatch finds any of a fixed phrase set in one pass over the input,
// ignoring ASCII case.
type phraseMatch struct {
	matcher ahocorasick.AhoCorasick
}

func newPhraseMatch(phrases []string) (Operator, error) {
	patterns := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil, errors.New("patterns are required")
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
		DFA:                  true,
	})
	return &phraseMatch{matcher: builder.Build(patterns)}, nil
}

func (o *phraseMatch) Evaluate(state State, value string) Result {
	matches := o.matcher.FindAll(value)
	if len(matches) == 0 {
		return Result{}
	}
	res := Result{Matched: true}
	if capturing(state) {
		first := matches[0]
		res.Captures = []string{value[first.Start():first.End()]}
	}
	return res
}
