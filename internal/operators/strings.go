package operators

import "strings"

func init() {
	registerString("streq", func(value, arg string) (bool, string) {
		return value == arg, value
	})
	registerString("contains", func(value, arg string) (bool, string) {
		return strings.Contains(value, arg), arg
	})
	registerString("containsWord", containsWord)
	registerString("beginsWith", func(value, arg string) (bool, string) {
		return strings.HasPrefix(value, arg), arg
	})
	registerString("endsWith", func(value, arg string) (bool, string) {
		return strings.HasSuffix(value, arg), arg
	})
	registerString("within", func(value, arg string) (bool, string) {
		return value != "" && strings.Contains(arg, value), value
	})
	// strmatch takes its argument literally, without macro expansion.
	Register("strmatch", func(opts Options) (Operator, error) {
		literal := Macro{raw: opts.Arguments}
		return stringOperator{arg: literal, match: func(value, arg string) (bool, string) {
			return strings.Contains(value, arg), arg
		}}, nil
	})
}

type stringOperator struct {
	arg   Macro
	match func(value, arg string) (bool, string)
}

func registerString(name string, match func(value, arg string) (bool, string)) {
	Register(name, func(opts Options) (Operator, error) {
		return stringOperator{arg: ParseMacro(opts.Arguments), match: match}, nil
	})
}

func (o stringOperator) Evaluate(state State, value string) Result {
	matched, capture := o.match(value, o.arg.Expand(state))
	if !matched {
		return Result{}
	}
	res := Result{Matched: true}
	if capturing(state) {
		res.Captures = []string{capture}
	}
	return res
}

// containsWord matches arg only at word boundaries.
func containsWord(value, arg string) (bool, string) {
	if arg == "" {
		return true, arg
	}
	for offset := 0; offset <= len(value)-len(arg); {
		i := strings.Index(value[offset:], arg)
		if i < 0 {
			return false, ""
		}
		start := offset + i
		end := start + len(arg)
		if (start == 0 || !isWordByte(value[start-1])) && (end == len(value) || !isWordByte(value[end])) {
			return true, arg
		}
		offset = start + 1
	}
	return false, ""
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
