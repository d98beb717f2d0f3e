//go:build unit

package httpfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRequestFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "requests.http")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunner_ExecuteFileWithCaptureChain(t *testing.T) {
	var authSeen string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "abc"})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		authSeen = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":"u"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	content := fmt.Sprintf(`@base = %s

# @name Login
# @capture t = $.token
POST {{base}}/login
Content-Type: application/json

{"user":"u","pass":"p"}

###
# @name Me
GET {{base}}/me
Authorization: Bearer {{t}}
`, server.URL)
	path := writeRequestFile(t, dir, content)

	session := OpenSession(dir)
	runner := NewRunner(session)
	results, err := runner.ExecuteFile(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Bearer abc", authSeen)
	assert.Equal(t, "abc", session.Captures()["t"])

	first := results[0]
	require.NotNil(t, first.Formatted)
	assert.Equal(t, ContentJSON, first.Formatted.DetectedContentType)
	assert.True(t, first.Formatted.StatusVerified)
	assert.NotNil(t, session.LastResponse())
}

func TestRunner_InvalidBlockIsNotSent(t *testing.T) {
	dir := t.TempDir()
	path := writeRequestFile(t, dir, "get https://localhost:1/x\n")

	runner := NewRunner(OpenSession(dir))
	results, err := runner.ExecuteFile(context.Background(), path)

	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Response)

	var codes []string
	for _, d := range results[0].Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, CodeInvalidMethod)
}

func TestRunner_ResolutionFailureAbortsSend(t *testing.T) {
	dir := t.TempDir()
	path := writeRequestFile(t, dir, "@a = {{b}}\n@b = {{a}}\nGET https://x/{{a}}\n")

	sent := false
	runner := NewRunner(OpenSession(dir), WithTransport(transportFunc(
		func(ctx context.Context, req *ResolvedRequest) (*Response, error) {
			sent = true
			return nil, nil
		})))
	results, err := runner.ExecuteFile(context.Background(), path)

	require.Error(t, err)
	require.Len(t, results, 1)
	assert.False(t, sent, "a fatally unresolved request must not reach the transport")
}

// transportFunc adapts a function to the Transport interface.
type transportFunc func(ctx context.Context, req *ResolvedRequest) (*Response, error)

func (f transportFunc) Send(ctx context.Context, req *ResolvedRequest) (*Response, error) {
	return f(ctx, req)
}

func TestRunner_StatuslessTransportSurfaced(t *testing.T) {
	dir := t.TempDir()
	path := writeRequestFile(t, dir, "GET https://anywhere.example/x\n")

	runner := NewRunner(OpenSession(dir), WithTransport(transportFunc(
		func(ctx context.Context, req *ResolvedRequest) (*Response, error) {
			return &Response{Body: []byte("ok"), StatusKnown: false}, nil
		})))
	results, err := runner.ExecuteFile(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, statusUnknownLine, results[0].Formatted.StatusLine)
}

func TestHTTPTransport_RefusesTraceAndConnect(t *testing.T) {
	transport := NewHTTPTransport()
	for _, method := range []Method{MethodTrace, MethodConnect} {
		_, err := transport.Send(context.Background(), &ResolvedRequest{
			Method: method, URL: "https://example.com/",
		})
		require.Error(t, err)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, TransportRefusedMethod, terr.Kind)
	}
}

func TestHTTPTransport_RejectsNonHTTPURL(t *testing.T) {
	transport := NewHTTPTransport()
	_, err := transport.Send(context.Background(), &ResolvedRequest{
		Method: MethodGet, URL: "ftp://example.com/file",
	})
	require.Error(t, err)
}

func TestHTTPTransport_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPTransport().Send(ctx, &ResolvedRequest{Method: MethodGet, URL: server.URL})

	require.Error(t, err)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportCancelled, terr.Kind)
}

func TestHTTPTransport_RoundTripPreservesHeadersAndBody(t *testing.T) {
	var gotBody []byte
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Tag")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer server.Close()

	resp, err := NewHTTPTransport().Send(context.Background(), &ResolvedRequest{
		Method:  MethodPost,
		URL:     server.URL,
		Headers: Headers{{Name: "X-Tag", Value: "v1"}},
		Body:    TextBody(`{"a":1}`),
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.StatusKnown)
	assert.Equal(t, "v1", gotHeader)
	assert.Equal(t, `{"a":1}`, string(gotBody))
	assert.Equal(t, []byte("created"), resp.Body)
}

func TestSession_CapturesVisibleAfterInstall(t *testing.T) {
	s := OpenSession(t.TempDir())
	doc, err := Parse("a.http", []byte("# @capture v = $.x\nGET https://a/x\n"))
	require.NoError(t, err)

	// Before capture installation the variable is undefined.
	docB, err := Parse("b.http", []byte("GET https://a/{{v}}\n"))
	require.NoError(t, err)
	_, diags := s.Resolve(docB.Blocks[0])
	require.Len(t, diags, 1)
	assert.Equal(t, CodeUndefinedVariable, diags[0].Code)

	require.Empty(t, s.ApplyCaptures(doc.Blocks[0], jsonResponse(`{"x":"later"}`)))
	resolved, diags := s.Resolve(docB.Blocks[0])
	assert.Empty(t, diags)
	assert.Equal(t, "https://a/later", resolved.URL)
}
