package variables

import "strings"

// ParseQuery splits a query string leniently: semicolons stay inside values,
// and malformed escapes are kept verbatim instead of failing.
func ParseQuery(query string, add func(key, value string)) {
	for query != "" {
		var pair string
		pair, query, _ = strings.Cut(query, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		add(Unescape(key), Unescape(value))
	}
}

func hexDigit(digit byte) (byte, bool) {
	switch {
	case digit >= '0' && digit <= '9':
		return digit - '0', true
	case digit >= 'a' && digit <= 'f':
		return digit - 'a' + 10, true
	case digit >= 'A' && digit <= 'F':
		return digit - 'A' + 10, true
	default:
		return 0, false
	}
}

// Unescape form-decodes input, turning '+' into a space.
func Unescape(input string) string {
	if strings.IndexByte(input, '%') < 0 && strings.IndexByte(input, '+') < 0 {
		return input
	}
	ilen := len(input)
	var res strings.Builder
	res.Grow(ilen)
	for i := 0; i < ilen; i++ {
		c := input[i]
		if c == '+' {
			res.WriteByte(' ')
			continue
		}
		if c == '%' && i+2 < ilen {
			hi, okHi := hexDigit(input[i+1])
			lo, okLo := hexDigit(input[i+2])
			if okHi && okLo {
				res.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		res.WriteByte(c)
	}
	return res.String()
}
