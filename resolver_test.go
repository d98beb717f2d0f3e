//go:build unit

package httpfile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "http-client.env.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sessionWithEnv(t *testing.T, envJSON string) *Session {
	t.Helper()
	dir := t.TempDir()
	s := OpenSession(dir)
	if envJSON != "" {
		path := writeEnvFile(t, dir, envJSON)
		_, _, err := s.LoadEnvironments(path)
		require.NoError(t, err)
	}
	return s
}

func parseOne(t *testing.T, content string) (*Document, *RequestBlock) {
	t.Helper()
	doc, err := Parse("test.http", []byte(content))
	require.NoError(t, err)
	require.NotEmpty(t, doc.Blocks)
	return doc, doc.Blocks[0]
}

func TestResolve_AcrossScopes(t *testing.T) {
	s := sessionWithEnv(t, `{"$shared":{"apiVersion":"v1"},"dev":{"baseUrl":"http://localhost:3000"},"active":"dev"}`)
	_, block := parseOne(t, "@extra = /ping\nGET {{baseUrl}}/{{apiVersion}}{{extra}}\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, "http://localhost:3000/v1/ping", resolved.URL)
	assert.False(t, resolved.Failed)
}

func TestResolve_MissingVariableIsWarning(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "GET {{baseUrl}}/x\n")

	resolved, diags := s.Resolve(block)

	assert.Equal(t, "/x", resolved.URL)
	assert.False(t, resolved.Failed)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeUndefinedVariable, diags[0].Code)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestResolve_CircularReferenceNamesCycle(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "@a = {{b}}\n@b = {{a}}\nGET https://x/{{a}}\nX-Ok: {{b}}\n")

	resolved, diags := s.Resolve(block)

	assert.True(t, resolved.Failed)
	// The failed field keeps its original text.
	assert.Equal(t, "https://x/{{a}}", resolved.URL)

	require.NotEmpty(t, diags)
	var cycles []string
	for _, d := range diags {
		if d.Code == CodeCircularReference {
			cycles = append(cycles, d.Message)
		}
	}
	// The URL resolves first and names the cycle from a; the X-Ok header
	// refers to b, which is circular too, and names the cycle from b.
	require.Len(t, cycles, 2, "expected a circular-reference diagnostic per field")
	assert.Contains(t, cycles[0], "a → b → a")
	assert.Contains(t, cycles[1], "b → a → b")
}

func TestResolve_SiblingFieldsSurviveFatalField(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"ok":"fine"},"active":"dev"}`)
	_, block := parseOne(t, "@a = {{a}}\nGET https://x/{{a}}\nX-Ok: {{ok}}\n")

	resolved, _ := s.Resolve(block)

	assert.True(t, resolved.Failed)
	v, ok := resolved.Headers.Get("X-Ok")
	require.True(t, ok)
	assert.Equal(t, "fine", v)
}

func TestResolve_FastPathReturnsInputUnchanged(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "GET https://plain.example.com/path\nAccept: text/plain\n\nplain body\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, block.RawURL, resolved.URL)
	assert.Equal(t, block.Headers[0].Value, resolved.Headers[0].Value)
	assert.Equal(t, block.Body.Text, resolved.Body.Text)
}

func TestResolve_FixedPoint(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"host":"https://h"},"active":"dev"}`)
	_, block := parseOne(t, "GET {{host}}/a\nX-H: {{host}}\n\nbody {{host}}\n")

	first, diags := s.Resolve(block)
	require.Empty(t, diags)

	// Re-resolving the already-resolved content must be a no-op.
	again := &RequestBlock{
		Method:        first.Method,
		RawURL:        first.URL,
		Headers:       first.Headers,
		Body:          first.Body,
		Lines:         block.Lines,
		FileVariables: block.FileVariables,
	}
	second, diags := s.Resolve(again)
	assert.Empty(t, diags)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, first.Body, second.Body)
}

func TestResolve_PrecedenceCapturesOverFileOverEnvOverShared(t *testing.T) {
	s := sessionWithEnv(t, `{"$shared":{"v":"from-shared"},"dev":{"v":"from-env"},"active":"dev"}`)

	_, block := parseOne(t, "GET https://x/{{v}}\n")
	resolved, _ := s.Resolve(block)
	assert.Equal(t, "https://x/from-env", resolved.URL, "active env beats shared")

	_, block = parseOne(t, "@v = from-file\nGET https://x/{{v}}\n")
	resolved, _ = s.Resolve(block)
	assert.Equal(t, "https://x/from-file", resolved.URL, "file variable beats environments")

	s.installBindings([]CaptureBinding{{Name: "v", Value: "from-capture"}})
	resolved, _ = s.Resolve(block)
	assert.Equal(t, "https://x/from-capture", resolved.URL, "capture beats everything")
}

func TestResolve_SharedIsFallbackOnly(t *testing.T) {
	s := sessionWithEnv(t, `{"$shared":{"only":"shared-value","v":"shared"},"dev":{"v":"env"},"active":"dev"}`)
	_, block := parseOne(t, "GET https://x/{{v}}/{{only}}\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, "https://x/env/shared-value", resolved.URL)
}

func TestResolve_NestedDepthBoundary(t *testing.T) {
	build := func(n int) string {
		content := ""
		for i := 1; i < n; i++ {
			content += fmt.Sprintf("@v%d = {{v%d}}\n", i, i+1)
		}
		content += fmt.Sprintf("@v%d = leaf\n", n)
		content += "GET https://x/{{v1}}\n"
		return content
	}

	s := sessionWithEnv(t, "")
	_, block := parseOne(t, build(10))
	resolved, diags := s.Resolve(block)
	assert.False(t, resolved.Failed)
	assert.Empty(t, diags)
	assert.Equal(t, "https://x/leaf", resolved.URL)

	_, block = parseOne(t, build(11))
	resolved, diags = s.Resolve(block)
	assert.True(t, resolved.Failed)
	require.NotEmpty(t, diags)
	assert.Equal(t, CodeCircularReference, diags[0].Code)
	assert.Contains(t, diags[0].Message, "v1")
	assert.Contains(t, diags[0].Message, "v11")
}

func TestResolve_EmptyReference(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "GET https://x/{{}}\n")

	resolved, diags := s.Resolve(block)

	assert.Equal(t, "https://x/{{}}", resolved.URL)
	assert.False(t, resolved.Failed)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeEmptyVariable, diags[0].Code)
	assert.Equal(t, SeverityError, diags[0].Severity)
}

func TestResolve_UnclosedBraces(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "GET https://x/{{oops\n")

	resolved, diags := s.Resolve(block)

	assert.Equal(t, "https://x/{{oops", resolved.URL)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeUnclosedBraces, diags[0].Code)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestResolve_EscapedBracesRenderLiterally(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"v":"real"},"active":"dev"}`)
	_, block := parseOne(t, `GET https://x/\{{v\}}/{{v}}`+"\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, "https://x/{{v}}/real", resolved.URL)
}

func TestResolve_HeaderNamesNeverSubstituted(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"n":"X-Resolved"},"active":"dev"}`)

	doc, err := Parse("h.http", []byte("GET https://x/\n{{n}}: value\n"))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)

	// `{{n}}` is not a valid header field name; the parser reports it and
	// the resolver never sees it as a name.
	assert.NotEmpty(t, doc.Diagnostics)
	assert.Empty(t, doc.Blocks[0].Headers)
	_ = s
}

func TestResolve_SystemVariableInURL(t *testing.T) {
	s := sessionWithEnv(t, "")
	_, block := parseOne(t, "GET https://x/{{$randomInt 5 5}}\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, "https://x/5", resolved.URL)
}

func TestResolve_BadSystemCallAbortsFieldOnly(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"ok":"yes"},"active":"dev"}`)
	_, block := parseOne(t, "GET https://x/{{$randomInt 9 1}}\nX-Ok: {{ok}}\n")

	resolved, diags := s.Resolve(block)

	assert.True(t, resolved.Failed)
	assert.Equal(t, "https://x/{{$randomInt 9 1}}", resolved.URL)
	v, _ := resolved.Headers.Get("X-Ok")
	assert.Equal(t, "yes", v)

	require.NotEmpty(t, diags)
	assert.Equal(t, CodeBadSystemCall, diags[0].Code)
	assert.Contains(t, diags[0].Message, "InvertedRange")
}

func TestResolve_ValueIntroducedReferencesExpand(t *testing.T) {
	s := sessionWithEnv(t, `{"dev":{"inner":"deep"},"active":"dev"}`)
	_, block := parseOne(t, "@outer = prefix-{{inner}}\nGET https://x/{{outer}}\n")

	resolved, diags := s.Resolve(block)

	assert.Empty(t, diags)
	assert.Equal(t, "https://x/prefix-deep", resolved.URL)
}
