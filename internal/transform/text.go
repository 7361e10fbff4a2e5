package transform

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("compressWhitespace", CompressWhitespace)
	Register("removeWhitespace", RemoveWhitespace)
	Register("removeNulls", RemoveNulls)
	Register("replaceNulls", ReplaceNulls)
	Register("removeComments", RemoveComments)
	Register("replaceComments", ReplaceComments)
	Register("removeCommentsChar", RemoveCommentsChar)
	Register("cmdLine", CmdLine)
	Register("trim", Trim)
	Register("trimLeft", TrimLeft)
	Register("trimRight", TrimRight)
	Register("length", Length)
	Register("md5", MD5)
	Register("sha1", SHA1)
	Register("utf8toUnicode", UTF8ToUnicode)
}

// Lowercase folds ASCII letters only, leaving other bytes untouched.
func Lowercase(input string) string {
	for i := 0; i < len(input); i++ {
		if c := input[i]; c >= 'A' && c <= 'Z' {
			b := []byte(input)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return input
}

func Uppercase(input string) string {
	for i := 0; i < len(input); i++ {
		if c := input[i]; c >= 'a' && c <= 'z' {
			b := []byte(input)
			for j := i; j < len(b); j++ {
				if b[j] >= 'a' && b[j] <= 'z' {
					b[j] -= 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return input
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v', 0xa0:
		return true
	}
	return false
}

// CompressWhitespace turns every whitespace run into a single space.
func CompressWhitespace(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	inSpace := false
	for i := 0; i < len(input); i++ {
		if isSpace(input[i]) {
			if !inSpace {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteByte(input[i])
	}
	return b.String()
}

func RemoveWhitespace(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if !isSpace(input[i]) {
			b.WriteByte(input[i])
		}
	}
	return b.String()
}

func RemoveNulls(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}

func ReplaceNulls(input string) string {
	return strings.ReplaceAll(input, "\x00", " ")
}

// RemoveComments strips C, HTML and SQL/shell line comments.
func RemoveComments(input string) string {
	return stripComments(input)
}

// ReplaceComments turns each C comment into a single space. An unterminated
// comment runs to the end of input.
func ReplaceComments(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for {
		start := strings.Index(input, "/*")
		if start < 0 {
			b.WriteString(input)
			return b.String()
		}
		b.WriteString(input[:start])
		b.WriteByte(' ')
		end := strings.Index(input[start+2:], "*/")
		if end < 0 {
			return b.String()
		}
		input = input[start+2+end+2:]
	}
}

func stripComments(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		rest := input[i:]
		switch {
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += 2 + end + 1
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				return b.String()
			}
			i += 4 + end + 2
		case strings.HasPrefix(rest, "--"), rest[0] == '#':
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
		default:
			b.WriteByte(input[i])
		}
	}
	return b.String()
}

// RemoveCommentsChar removes comment delimiters but keeps their content.
func RemoveCommentsChar(input string) string {
	replacer := strings.NewReplacer("/*", "", "*/", "", "<!--", "", "-->", "", "--", "", "#", "")
	return replacer.Replace(input)
}

// CmdLine normalises shell command lines: quoting and escape characters are
// dropped, separators become spaces, whitespace is compressed and the result
// lowercased.
func CmdLine(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	space := false
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch c {
		case '"', '\'', '\\', '^':
			continue
		case ' ', '\t', '\n', '\r', ',', ';':
			space = true
			continue
		case '/', '(':
			space = false
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func Trim(input string) string {
	return strings.TrimFunc(input, isSpaceRune)
}

func TrimLeft(input string) string {
	return strings.TrimLeftFunc(input, isSpaceRune)
}

func TrimRight(input string) string {
	return strings.TrimRightFunc(input, isSpaceRune)
}

func isSpaceRune(r rune) bool {
	return r < utf8.RuneSelf && isSpace(byte(r))
}

func Length(input string) string {
	return strconv.Itoa(len(input))
}

// MD5 returns the raw digest bytes.
func MD5(input string) string {
	sum := md5.Sum([]byte(input))
	return string(sum[:])
}

func SHA1(input string) string {
	sum := sha1.Sum([]byte(input))
	return string(sum[:])
}

// UTF8ToUnicode rewrites multi-byte characters as %uXXXX. Invalid bytes are kept.
func UTF8ToUnicode(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == utf8.RuneError && size <= 1 || r < utf8.RuneSelf {
			b.WriteByte(input[i])
			i++
			continue
		}
		fmt.Fprintf(&b, "%%u%04x", r)
		i += size
	}
	return b.String()
}
