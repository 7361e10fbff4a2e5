package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChain(t *testing.T, names ...string) Chain {
	t.Helper()
	chain, err := NewChain(names)
	require.NoError(t, err)
	return chain
}

func TestChainAppliesLeftToRight(t *testing.T) {
	chain := mustChain(t, "urlDecode", "lowercase")
	out, applied := chain.Apply("%3CScRipT%3E")
	assert.Equal(t, "<script>", out)
	assert.Equal(t, []string{"urlDecode", "lowercase"}, applied)

	// Order matters: base64 before lowercase differs from the reverse.
	a, _ := mustChain(t, "base64Decode", "lowercase").Apply("SGVMTE8=")
	b, _ := mustChain(t, "lowercase", "base64Decode").Apply("SGVMTE8=")
	assert.Equal(t, "hello", a)
	assert.NotEqual(t, a, b)
}

func TestNoneResetsChain(t *testing.T) {
	chain := mustChain(t, "lowercase", "none", "trim")
	assert.Equal(t, []string{"trim"}, chain.Names())
}

func TestUnknownTransform(t *testing.T) {
	_, err := NewChain([]string{"rot13"})
	assert.Error(t, err)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	_, ok := Lookup("URLDECODEUNI")
	assert.True(t, ok)
	_, ok = Lookup("normalisePathWin")
	assert.True(t, ok)
}

func TestIdempotentTransforms(t *testing.T) {
	inputs := []string{
		"", "  Mixed CASE\t\tvalue  ", "/a//b/./../c/", `C:\Windows\..\system32`,
		"x\x00y", "sel/*c*/ect", "\xff\xfeAB", "a  b\n\nc",
	}
	for _, name := range []string{
		"lowercase", "uppercase", "compressWhitespace", "removeWhitespace", "removeNulls",
		"replaceNulls", "trim", "trimLeft", "trimRight", "normalizePath", "normalizePathWin", "cmdLine",
	} {
		t.Run(name, func(t *testing.T) {
			fn, ok := Lookup(name)
			require.True(t, ok)
			for _, in := range inputs {
				once := fn(in)
				assert.Equal(t, once, fn(once), "input %q", in)
			}
		})
	}
}

func TestDeterministic(t *testing.T) {
	chain := mustChain(t, "urlDecodeUni", "htmlEntityDecode", "jsDecode", "cmdLine")
	in := `%u0053ELECT &lt;x&gt; \x41 "cat" /etc/passwd`
	first, _ := chain.Apply(in)
	for i := 0; i < 10; i++ {
		out, _ := chain.Apply(in)
		require.Equal(t, first, out)
	}
}

func TestDecoders(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"urlDecode", "a%20b+c%zz%4", "a b c%zz%4"},
		{"urlDecodeUni", "%u0041%uff21%41", "AAA"},
		{"htmlEntityDecode", "&lt;script&gt;&quot;", `<script>"`},
		{"jsDecode", `\x3cimg\u0020src\101\q`, "<img srcAq"},
		{"cssDecode", `\3c script\3E\\`, `<script>\`},
		{"escapeSeqDecode", `a\tb\x41\101\z`, "a\tbAA\\z"},
		{"base64Decode", "aGVsbG8=junk", "hello"},
		{"base64DecodeExt", "aGV s*bG8", "hello"},
		{"base64Encode", "hello", "aGVsbG8="},
		{"hexDecode", "414243zz", "ABCzz"},
		{"hexEncode", "AB", "4142"},
		{"sqlHexDecode", "select 0x414243,1", "select ABC,1"},
		{"removeComments", "sel/*x*/ect 1 -- tail\nok", "select 1 \nok"},
		{"replaceComments", "sel/*x*/ect /* open", "sel ect  "},
		{"removeCommentsChar", "a/*b*/c<!--d-->#e", "abcde"},
		{"cmdLine", `C^at  "/ETC/passwd" ; ls`, "cat/etc/passwd ls"},
		{"compressWhitespace", "a \t\n b", "a b"},
		{"removeWhitespace", " a b ", "ab"},
		{"removeNulls", "a\x00b", "ab"},
		{"replaceNulls", "a\x00b", "a b"},
		{"normalizePath", "/a/b/../../../etc/passwd", "/etc/passwd"},
		{"normalizePathWin", `\a\.\b\..\c`, "/a/c"},
		{"trim", "  x  ", "x"},
		{"length", "four", "4"},
		{"utf8toUnicode", "aé", "a%u00e9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fn, ok := Lookup(tc.name)
			require.True(t, ok)
			assert.Equal(t, tc.want, fn(tc.in))
		})
	}
}

func TestMalformedInputNeverPanics(t *testing.T) {
	inputs := []string{"%", "%u12", `\`, `\x`, `\u00`, "0x", "=", "\xff\xff", "/*", "<!--", strings.Repeat("%", 100)}
	for _, name := range Names() {
		fn, _ := Lookup(name)
		for _, in := range inputs {
			assert.NotPanics(t, func() { fn(in) }, "%s(%q)", name, in)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/a//b/./c":  "/a/b/c",
		"/a/b/../c":  "/a/c",
		"../a/../b":  "b",
		"/../a":      "/a",
		"/a/b/":      "/a/b/",
		"":           "",
		"/":          "/",
		"/a/../../b": "/b",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, NormalizePath(input), "input %q", input)
	}
}

func TestStepsForMultiMatch(t *testing.T) {
	chain := mustChain(t, "urlDecode", "lowercase", "trim")
	steps := chain.Steps("%41B")
	require.Len(t, steps, 3)
	assert.Equal(t, "%41B", steps[0].Value)
	assert.Empty(t, steps[0].Applied)
	assert.Equal(t, "AB", steps[1].Value)
	assert.Equal(t, "ab", steps[2].Value)
	assert.Equal(t, []string{"urlDecode", "lowercase"}, steps[2].Applied)
}

func TestCacheReusesResults(t *testing.T) {
	calls := 0
	chain := Chain{{Name: "counting", Fn: func(s string) string {
		calls++
		return strings.ToUpper(s)
	}}}

	cache := NewCache(4)
	out, _ := cache.Apply(chain, "abc")
	assert.Equal(t, "ABC", out)
	out, names := cache.Apply(chain, "abc")
	assert.Equal(t, "ABC", out)
	assert.Equal(t, []string{"counting"}, names)
	assert.Equal(t, 1, calls)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
