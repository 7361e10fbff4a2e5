package bodyprocessors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilwaf/veil/internal/variables"
)

func argsPost(s *variables.Store, key string) []string {
	return s.Collection(variables.ArgsPost).Get(key)
}

func TestForContentType(t *testing.T) {
	assert.Equal(t, URLEncoded, ForContentType("application/x-www-form-urlencoded; charset=utf-8"))
	assert.Equal(t, JSON, ForContentType("application/json"))
	assert.Equal(t, JSON, ForContentType("application/problem+json"))
	assert.Equal(t, Multipart, ForContentType("multipart/form-data; boundary=xyz"))
	assert.Equal(t, "", ForContentType("text/plain"))
	assert.Equal(t, URLEncoded, ForContentType("Application/X-WWW-Form-Urlencoded;;"))
}

func TestURLEncoded(t *testing.T) {
	p, ok := Get("urlencoded")
	require.True(t, ok)

	s := variables.NewStore()
	require.NoError(t, p.ProcessRequest([]byte("user=admin&pass=%27+or+1%3D1"), "", s))
	assert.Equal(t, []string{"admin"}, argsPost(s, "user"))
	assert.Equal(t, []string{"' or 1=1"}, argsPost(s, "pass"))
}

func TestJSONFlattening(t *testing.T) {
	p, _ := Get(JSON)
	s := variables.NewStore()

	body := `{"user":{"name":"bob","tags":["a","b\"c"]},"n":12,"ok":true,"none":null}`
	require.NoError(t, p.ProcessRequest([]byte(body), "application/json", s))

	assert.Equal(t, []string{"bob"}, argsPost(s, "json.user.name"))
	assert.Equal(t, []string{"a"}, argsPost(s, "json.user.tags.0"))
	assert.Equal(t, []string{`b"c`}, argsPost(s, "json.user.tags.1"))
	assert.Equal(t, []string{"12"}, argsPost(s, "json.n"))
	assert.Equal(t, []string{"true"}, argsPost(s, "json.ok"))
	assert.Equal(t, []string{""}, argsPost(s, "json.none"))
}

func TestJSONRejectsScalarsAndDeepNesting(t *testing.T) {
	p, _ := Get(JSON)

	assert.Error(t, p.ProcessRequest([]byte(`"just a string"`), "", variables.NewStore()))

	deep := strings.Repeat("[", 40) + strings.Repeat("]", 40)
	assert.ErrorIs(t, p.ProcessRequest([]byte(deep), "", variables.NewStore()), errJSONTooDeep)
}

func TestJSONMalformedKeepsPartialArgs(t *testing.T) {
	p, _ := Get(JSON)
	s := variables.NewStore()

	err := p.ProcessRequest([]byte(`{"a":"1","b":`), "", s)
	assert.Error(t, err)
	assert.Equal(t, []string{"1"}, argsPost(s, "json.a"))
}

func TestMultipart(t *testing.T) {
	p, _ := Get(Multipart)
	s := variables.NewStore()

	body := strings.Join([]string{
		"--XYZ",
		`Content-Disposition: form-data; name="title"`,
		"",
		"hello",
		"--XYZ",
		`Content-Disposition: form-data; name="upload"; filename="shell.php"`,
		"Content-Type: application/octet-stream",
		"",
		"<?php system($_GET['c']); ?>",
		"--XYZ--",
		"",
	}, "\r\n")

	require.NoError(t, p.ProcessRequest([]byte(body), "multipart/form-data; boundary=XYZ", s))
	assert.Equal(t, []string{"hello"}, argsPost(s, "title"))
	assert.Equal(t, []string{"shell.php"}, s.Collection(variables.Files).Get("upload"))
}

func TestMultipartWithoutBoundary(t *testing.T) {
	p, _ := Get(Multipart)
	assert.Error(t, p.ProcessRequest([]byte("x"), "multipart/form-data", variables.NewStore()))
}
