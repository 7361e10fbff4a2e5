package transform

import (
	"encoding/base64"
	"encoding/hex"
	"html"
	"strings"
	"unicode/utf8"
)

func init() {
	Register("urlDecode", URLDecode)
	Register("urlDecodeUni", URLDecodeUni)
	Register("htmlEntityDecode", HTMLEntityDecode)
	Register("jsDecode", JSDecode)
	Register("cssDecode", CSSDecode)
	Register("escapeSeqDecode", EscapeSeqDecode)
	Register("base64Decode", Base64Decode)
	Register("base64DecodeExt", Base64DecodeExt)
	Register("base64Encode", Base64Encode)
	Register("hexDecode", HexDecode)
	Register("hexEncode", HexEncode)
	Register("sqlHexDecode", SQLHexDecode)
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isHex(c byte) bool {
	_, ok := fromHex(c)
	return ok
}

func hexByte(hi, lo byte) byte {
	h, _ := fromHex(hi)
	l, _ := fromHex(lo)
	return h<<4 | l
}

// URLDecode decodes %XX escapes and '+'; invalid escapes are kept as is.
func URLDecode(input string) string {
	if strings.IndexByte(input, '%') < 0 && strings.IndexByte(input, '+') < 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(input) && isHex(input[i+1]) && isHex(input[i+2]):
			b.WriteByte(hexByte(input[i+1], input[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// URLDecodeUni is URLDecode plus the IIS %uXXXX form.
func URLDecodeUni(input string) string {
	if strings.IndexByte(input, '%') < 0 && strings.IndexByte(input, '+') < 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+5 < len(input) && (input[i+1] == 'u' || input[i+1] == 'U') &&
			isHex(input[i+2]) && isHex(input[i+3]) && isHex(input[i+4]) && isHex(input[i+5]):
			r := rune(hexByte(input[i+2], input[i+3]))<<8 | rune(hexByte(input[i+4], input[i+5]))
			// Full-width ASCII collapses to plain ASCII.
			if r >= 0xff01 && r <= 0xff5e {
				r -= 0xfee0
			}
			b.WriteRune(r)
			i += 5
		case c == '%' && i+2 < len(input) && isHex(input[i+1]) && isHex(input[i+2]):
			b.WriteByte(hexByte(input[i+1], input[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func HTMLEntityDecode(input string) string {
	if strings.IndexByte(input, '&') < 0 {
		return input
	}
	return html.UnescapeString(input)
}

// JSDecode decodes JavaScript escapes: \uXXXX, \xHH, octal and the single
// character forms. Unknown escapes drop the backslash.
func JSDecode(input string) string {
	if strings.IndexByte(input, '\\') < 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c != '\\' || i+1 >= len(input) {
			b.WriteByte(c)
			continue
		}
		next := input[i+1]
		switch {
		case next == 'u' && i+5 < len(input) && isHex(input[i+2]) && isHex(input[i+3]) && isHex(input[i+4]) && isHex(input[i+5]):
			r := rune(hexByte(input[i+2], input[i+3]))<<8 | rune(hexByte(input[i+4], input[i+5]))
			if r >= 0xff01 && r <= 0xff5e {
				r -= 0xfee0
			}
			b.WriteRune(r)
			i += 5
		case next == 'x' && i+3 < len(input) && isHex(input[i+2]) && isHex(input[i+3]):
			b.WriteByte(hexByte(input[i+2], input[i+3]))
			i += 3
		case next >= '0' && next <= '7':
			n, width := octal(input[i+1:])
			b.WriteByte(n)
			i += width
		default:
			b.WriteByte(simpleEscape(next))
			i++
		}
	}
	return b.String()
}

// octal reads up to three octal digits that fit a byte.
func octal(s string) (byte, int) {
	var v int
	width := 0
	for width < 3 && width < len(s) && s[width] >= '0' && s[width] <= '7' {
		nv := v*8 + int(s[width]-'0')
		if nv > 0xff {
			break
		}
		v = nv
		width++
	}
	return byte(v), width
}

func simpleEscape(c byte) byte {
	switch c {
	case 'a':
		return '\a'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'v':
		return '\v'
	default:
		return c
	}
}

// CSSDecode decodes CSS escapes: a backslash and up to six hex digits, with
// one optional trailing whitespace. Escaped newlines are removed.
func CSSDecode(input string) string {
	if strings.IndexByte(input, '\\') < 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c != '\\' || i+1 >= len(input) {
			if c != '\\' {
				b.WriteByte(c)
			}
			continue
		}
		j := i + 1
		for j < len(input) && j-i-1 < 6 && isHex(input[j]) {
			j++
		}
		digits := input[i+1 : j]
		if digits == "" {
			if input[j] != '\n' {
				b.WriteByte(input[j])
			}
			i = j
			continue
		}
		var r rune
		for k := 0; k < len(digits); k++ {
			v, _ := fromHex(digits[k])
			r = r<<4 | rune(v)
		}
		if r >= 0xff01 && r <= 0xff5e {
			r -= 0xfee0
		}
		if r < 0x100 {
			b.WriteByte(byte(r))
		} else if utf8.ValidRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(utf8.RuneError)
		}
		if j < len(input) && (input[j] == ' ' || input[j] == '\t' || input[j] == '\n') {
			j++
		}
		i = j - 1
	}
	return b.String()
}

// EscapeSeqDecode decodes ANSI C escape sequences.
func EscapeSeqDecode(input string) string {
	if strings.IndexByte(input, '\\') < 0 {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c != '\\' || i+1 >= len(input) {
			b.WriteByte(c)
			continue
		}
		next := input[i+1]
		switch {
		case next == 'x' && i+3 < len(input) && isHex(input[i+2]) && isHex(input[i+3]):
			b.WriteByte(hexByte(input[i+2], input[i+3]))
			i += 3
		case next >= '0' && next <= '7':
			n, width := octal(input[i+1:])
			b.WriteByte(n)
			i += width
		case strings.IndexByte(`abfnrtv\?'"`, next) >= 0:
			b.WriteByte(simpleEscape(next))
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isBase64(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/'
}

// Base64Decode decodes the longest valid prefix of input.
func Base64Decode(input string) string {
	end := 0
	for end < len(input) && isBase64(input[end]) {
		end++
	}
	return decodeBase64(input[:end])
}

// Base64DecodeExt skips characters outside the alphabet and accepts the URL-safe variant.
func Base64DecodeExt(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '-':
			b.WriteByte('+')
		case c == '_':
			b.WriteByte('/')
		case isBase64(c):
			b.WriteByte(c)
		}
	}
	return decodeBase64(b.String())
}

func decodeBase64(clean string) string {
	// A single dangling character carries no full byte.
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}
	// On corrupt input DecodeString still returns the bytes decoded so far.
	out, _ := base64.RawStdEncoding.DecodeString(clean)
	return string(out)
}

func Base64Encode(input string) string {
	return base64.StdEncoding.EncodeToString([]byte(input))
}

// HexDecode decodes hex pairs until the first invalid pair; the rest is kept.
func HexDecode(input string) string {
	var b strings.Builder
	b.Grow(len(input) / 2)
	i := 0
	for ; i+1 < len(input); i += 2 {
		if !isHex(input[i]) || !isHex(input[i+1]) {
			break
		}
		b.WriteByte(hexByte(input[i], input[i+1]))
	}
	b.WriteString(input[i:])
	return b.String()
}

func HexEncode(input string) string {
	return hex.EncodeToString([]byte(input))
}

// SQLHexDecode replaces 0xHEX literals with the bytes they encode.
func SQLHexDecode(input string) string {
	if !strings.Contains(input, "0x") && !strings.Contains(input, "0X") {
		return input
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if input[i] == '0' && i+3 < len(input) && (input[i+1] == 'x' || input[i+1] == 'X') && isHex(input[i+2]) && isHex(input[i+3]) {
			j := i + 2
			for j+1 < len(input) && isHex(input[j]) && isHex(input[j+1]) {
				b.WriteByte(hexByte(input[j], input[j+1]))
				j += 2
			}
			i = j - 1
			continue
		}
		b.WriteByte(input[i])
	}
	return b.String()
}
