package httpfile

import (
	"net/http"
	"strings"
	"time"
)

// Method is an HTTP request method token as it appears on a request line.
// Only the uppercase forms are recognized by the parser.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodConnect Method = "CONNECT"
)

var knownMethods = map[string]Method{
	"GET": MethodGet, "POST": MethodPost, "PUT": MethodPut, "PATCH": MethodPatch,
	"DELETE": MethodDelete, "HEAD": MethodHead, "OPTIONS": MethodOptions,
	"TRACE": MethodTrace, "CONNECT": MethodConnect,
}

// ParseMethod maps a request-line token to a Method. Lowercase tokens are
// rejected: the token must match the uppercase form exactly.
func ParseMethod(token string) (Method, bool) {
	m, ok := knownMethods[token]
	return m, ok
}

// Header is a single header field. Name comparison is case-insensitive but
// the original casing is preserved for emission.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Duplicate names are allowed and keep
// file order.
type Headers []Header

// Get returns the value of the first header whose name matches
// case-insensitively, and whether one was found.
func (hs Headers) Get(name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns every value recorded under name, in file order.
func (hs Headers) Values(name string) []string {
	var vals []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// ToHTTP converts the ordered list into a net/http header map.
func (hs Headers) ToHTTP() http.Header {
	out := make(http.Header, len(hs))
	for _, h := range hs {
		out[http.CanonicalHeaderKey(h.Name)] = append(out[http.CanonicalHeaderKey(h.Name)], h.Value)
	}
	return out
}

// BodyKind discriminates the Body variants.
type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyText
	BodyBinary
)

// Body is a request body. An absent body (BodyEmpty) is distinct from an
// empty text body.
type Body struct {
	Kind BodyKind
	Text string // BodyText
	Data []byte // BodyBinary
}

// TextBody wraps s in a text Body.
func TextBody(s string) Body { return Body{Kind: BodyText, Text: s} }

// IsEmpty reports whether no body was present at all.
func (b Body) IsEmpty() bool { return b.Kind == BodyEmpty }

// Bytes returns the body payload regardless of variant.
func (b Body) Bytes() []byte {
	switch b.Kind {
	case BodyText:
		return []byte(b.Text)
	case BodyBinary:
		return b.Data
	default:
		return nil
	}
}

// LineRange is a 1-based inclusive range of source lines.
type LineRange struct {
	Start int
	End   int
}

// CaptureKind discriminates capture sources.
type CaptureKind int

const (
	CaptureJSONPath CaptureKind = iota
	CaptureHeader
	// CaptureXPath is recognized syntactically so it can be rejected with a
	// stable diagnostic instead of being misread as a JSONPath.
	CaptureXPath
)

// CaptureSource says where a captured value comes from in the response.
type CaptureSource struct {
	Kind   CaptureKind
	Path   string // CaptureJSONPath / CaptureXPath: the path expression
	Header string // CaptureHeader: the header name
}

// Capture binds a response value to a session-scoped name, declared with a
// `# @capture name = expr` comment on the request.
type Capture struct {
	Name   string
	Source CaptureSource
	Line   int
}

// FileDirective is a file-scope `@key = value` line.
type FileDirective struct {
	Key   string
	Value string
	Line  int
}

// RequestBlock is one parsed request from a .http/.rest file. Blocks are
// immutable once emitted by the parser.
type RequestBlock struct {
	// Name comes from a `@name` directive only.
	Name string
	// Label is the text after the opening `###` separator, kept for display.
	// A label does not name the request.
	Label       string
	Method      Method
	RawURL      string
	HTTPVersion string
	Headers     Headers
	Body        Body
	Captures    []Capture
	Lines       LineRange

	// FileVariables is the snapshot of file-scope `@key = value` values in
	// effect when this block was closed. Resolution reads file variables
	// from here so a block carries its own context.
	FileVariables map[string]string

	// Invalid marks a block that was retained for display but must not be
	// sent (for example an unrecognized method token).
	Invalid bool
}

// Document is the result of parsing one request file.
type Document struct {
	Path        string
	Blocks      []*RequestBlock
	Directives  []FileDirective
	Diagnostics []Diagnostic
}

// FileVariables flattens the document's directives into a lookup map.
// Later directives override earlier ones under the same key.
func (d *Document) FileVariables() map[string]string {
	vars := make(map[string]string, len(d.Directives))
	for _, dir := range d.Directives {
		vars[dir.Key] = dir.Value
	}
	return vars
}

// ResolvedRequest is a RequestBlock after variable resolution. The only
// `{{...}}` text left is escaped literals, empty `{{}}` references, unclosed
// braces, and the original text of fields whose resolution failed.
type ResolvedRequest struct {
	Name        string
	Method      Method
	URL         string
	HTTPVersion string
	Headers     Headers
	Body        Body
	Captures    []Capture

	// Failed is set when a fatal resolution outcome (circular reference,
	// fatal system-variable error) hit at least one field. A failed request
	// must not be sent.
	Failed bool
}

// Response is what the transport collaborator hands back. StatusKnown is
// false for constrained transports that cannot report a status code; the
// formatter surfaces that instead of assuming success.
type Response struct {
	StatusCode  int
	Status      string // e.g. "200 OK"; empty when StatusKnown is false
	StatusKnown bool
	Proto       string // e.g. "HTTP/1.1"
	Headers     Headers
	Body        []byte
	Duration    time.Duration
}

// ContentType is the formatter's detected media class.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentJSON
	ContentXML
	ContentHTML
	ContentText
	ContentBinary
)

func (c ContentType) String() string {
	switch c {
	case ContentJSON:
		return "json"
	case ContentXML:
		return "xml"
	case ContentHTML:
		return "html"
	case ContentText:
		return "text"
	case ContentBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// FormattedResponse is the display-ready form of a Response. RawBody always
// holds the untouched response bytes; FormattedBody may equal it on a
// formatting fallback.
type FormattedResponse struct {
	StatusLine          string
	HeadersText         string
	DetectedContentType ContentType
	FormattedBody       string
	RawBody             []byte
	IsFormatted         bool
	PreviewTruncated    bool
	PreviewLineCount    int
	TooLarge            bool
	StatusVerified      bool
}

// Body returns the view selected by IsFormatted.
func (f *FormattedResponse) Body() string {
	if f.IsFormatted {
		return f.FormattedBody
	}
	return string(f.RawBody)
}
