package operators

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

func init() {
	Register("validateByteRange", newValidateByteRange)
	Register("validateUrlEncoding", func(Options) (Operator, error) { return validateURLEncoding{}, nil })
	Register("validateUtf8Encoding", func(Options) (Operator, error) { return validateUTF8{}, nil })
}

// validateByteRange matches when the value contains a byte outside the
// allowed ranges, e.g. "9,10,13,32-126".
type validateByteRange struct {
	allowed [256]bool
}

func newValidateByteRange(opts Options) (Operator, error) {
	op := &validateByteRange{}
	for _, item := range strings.Split(opts.Arguments, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(item, "-")
		start, err := parseByte(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parseByte(hi); err != nil {
				return nil, err
			}
		}
		if start > end {
			return nil, fmt.Errorf("invalid byte range %q", item)
		}
		for b := start; b <= end; b++ {
			op.allowed[b] = true
		}
	}
	return op, nil
}

func parseByte(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("invalid byte value %q", raw)
	}
	return n, nil
}

func (o *validateByteRange) Evaluate(state State, value string) Result {
	for i := 0; i < len(value); i++ {
		if !o.allowed[value[i]] {
			res := Result{Matched: true}
			if capturing(state) {
				res.Captures = []string{strconv.Itoa(int(value[i]))}
			}
			return res
		}
	}
	return Result{}
}

// validateURLEncoding matches on a truncated or non-hex % escape.
type validateURLEncoding struct{}

func (validateURLEncoding) Evaluate(_ State, value string) Result {
	for i := 0; i < len(value); i++ {
		if value[i] != '%' {
			continue
		}
		if i+2 >= len(value) || !isHexDigit(value[i+1]) || !isHexDigit(value[i+2]) {
			return Result{Matched: true}
		}
		i += 2
	}
	return Result{}
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

type validateUTF8 struct{}

func (validateUTF8) Evaluate(_ State, value string) Result {
	return Result{Matched: !utf8.ValidString(value)}
}
