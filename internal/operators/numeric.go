package operators

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

func init() {
	registerNumeric("eq", func(a, b int) bool { return a == b })
	registerNumeric("ge", func(a, b int) bool { return a >= b })
	registerNumeric("gt", func(a, b int) bool { return a > b })
	registerNumeric("le", func(a, b int) bool { return a <= b })
	registerNumeric("lt", func(a, b int) bool { return a < b })
}

type numericOperator struct {
	arg     Macro
	compare func(value, arg int) bool
}

func registerNumeric(name string, compare func(value, arg int) bool) {
	Register(name, func(opts Options) (Operator, error) {
		return numericOperator{arg: ParseMacro(opts.Arguments), compare: compare}, nil
	})
}

func (o numericOperator) Evaluate(state State, value string) Result {
	if !o.compare(ParseInt(value), ParseInt(o.arg.Expand(state))) {
		return Result{}
	}
	res := Result{Matched: true}
	if capturing(state) {
		res.Captures = []string{value}
	}
	return res
}

// ParseInt reads a leading, optionally signed integer. Input without
// digits counts as 0; values outside the int range clamp to its limits.
func ParseInt(raw string) int {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	digits := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(raw[:end], 10, strconv.IntSize)
	if errors.Is(err, strconv.ErrRange) {
		if raw[0] == '-' {
			return math.MinInt
		}
		return math.MaxInt
	}
	return int(n)
}

// AddInt adds without wrapping around the int limits.
func AddInt(a, b int) int {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt
	case b < 0 && sum > a:
		return math.MinInt
	}
	return sum
}

// SubInt subtracts without wrapping around the int limits.
func SubInt(a, b int) int {
	if b == math.MinInt {
		if a >= 0 {
			return math.MaxInt
		}
		return a - b
	}
	return AddInt(a, -b)
}
