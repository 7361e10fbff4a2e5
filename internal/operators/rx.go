package operators

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

func init() {
	Register("rx", newRx)
}

// rx is a backtracking regex bounded by a per-evaluation match timeout.
type rx struct {
	re *regexp2.Regexp
}

func newRx(opts Options) (Operator, error) {
	re, err := regexp2.Compile(opts.Arguments, regexp2.Singleline)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = opts.MatchTimeout
	return &rx{re: re}, nil
}

func (o *rx) Evaluate(state State, value string) Result {
	m, err := o.re.FindStringMatch(value)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	if m == nil {
		return Result{}
	}
	res := Result{Matched: true}
	if !capturing(state) {
		return res
	}
	for i, g := range m.Groups() {
		if i >= maxCaptures {
			break
		}
		res.Captures = append(res.Captures, g.String())
	}
	return res
}
