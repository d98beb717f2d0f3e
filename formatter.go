package httpfile

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"mime"
	"strconv"
	"strings"
)

const (
	// maxFormatBody is the hard cap for pretty-printing; larger bodies pass
	// through raw with a response-too-large marker.
	maxFormatBody = 10 << 20
	// jsonPreviewThreshold switches large JSON bodies to preview mode.
	jsonPreviewThreshold = 1 << 20
	// jsonPreviewLines is how much of a previewed body is emitted.
	jsonPreviewLines = 1000
	// binaryPreviewBytes bounds the hex preview of binary bodies.
	binaryPreviewBytes = 1024
	// binarySniffWindow and binaryRatio drive the binary heuristic.
	binarySniffWindow = 512
	binaryRatio       = 0.30
)

// statusUnknownLine is shown when the transport could not report a status.
// The formatter never claims success it cannot verify.
const statusUnknownLine = "status unknown (transport-limited)"

// detectContentType classifies a response body. The Content-Type header
// wins when it names a recognized media type; otherwise the first bytes are
// sniffed. A sniffed JSON candidate must survive a real parse.
func detectContentType(headers Headers, body []byte) ContentType {
	if raw, ok := headers.Get("Content-Type"); ok {
		if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
			if ct, ok := contentTypeFromMedia(mediaType); ok {
				return ct
			}
		}
	}
	return sniffContentType(body)
}

func contentTypeFromMedia(mediaType string) (ContentType, bool) {
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return ContentJSON, true
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return ContentHTML, true
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return ContentXML, true
	case mediaType == "application/octet-stream":
		return ContentBinary, true
	case strings.HasPrefix(mediaType, "text/"):
		return ContentText, true
	}
	return ContentUnknown, false
}

func sniffContentType(body []byte) ContentType {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return ContentText
	}
	switch trimmed[0] {
	case '{', '[':
		if json.Valid(body) {
			return ContentJSON
		}
		return ContentText
	case '<':
		return ContentXML
	}
	if looksBinary(trimmed) {
		return ContentBinary
	}
	return ContentText
}

func looksBinary(body []byte) bool {
	window := body
	if len(window) > binarySniffWindow {
		window = window[:binarySniffWindow]
	}
	nonPrintable := 0
	for _, b := range window {
		if b < 0x09 || (b > 0x0d && b < 0x20) || b == 0x7f {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(window)) > binaryRatio
}

// Format produces the display-ready form of a response. The raw bytes are
// always preserved in RawBody; FormattedBody falls back to them when
// pretty-printing is not possible. Formatting failure of a declared JSON or
// XML body is silent.
func Format(resp *Response) *FormattedResponse {
	f := &FormattedResponse{
		StatusLine:     statusLine(resp),
		HeadersText:    headersText(resp.Headers),
		RawBody:        resp.Body,
		IsFormatted:    true,
		StatusVerified: resp.StatusKnown,
	}

	if len(resp.Body) > maxFormatBody {
		f.DetectedContentType = ContentUnknown
		f.FormattedBody = string(resp.Body)
		f.TooLarge = true
		return f
	}

	f.DetectedContentType = detectContentType(resp.Headers, resp.Body)
	switch f.DetectedContentType {
	case ContentJSON:
		f.FormattedBody = string(resp.Body)
		if pretty, ok := formatJSON(resp.Body); ok {
			if len(resp.Body) > jsonPreviewThreshold {
				pretty, f.PreviewTruncated, f.PreviewLineCount = truncateLines(pretty, jsonPreviewLines)
			}
			f.FormattedBody = pretty
		}
	case ContentXML:
		f.FormattedBody = string(resp.Body)
		if pretty, ok := formatXML(resp.Body); ok {
			f.FormattedBody = pretty
		}
	case ContentBinary:
		f.FormattedBody = binaryPreview(resp.Body)
	default:
		f.FormattedBody = string(resp.Body)
	}
	return f
}

// ToggleView flips between the formatted and the raw view without
// recomputing anything.
func ToggleView(f *FormattedResponse) *FormattedResponse {
	out := *f
	out.IsFormatted = !f.IsFormatted
	return &out
}

func statusLine(resp *Response) string {
	if !resp.StatusKnown {
		return statusUnknownLine
	}
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if resp.Status != "" {
		return proto + " " + resp.Status
	}
	return proto + " " + strconv.Itoa(resp.StatusCode)
}

func headersText(hs Headers) string {
	var b strings.Builder
	for _, h := range hs {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// formatJSON re-indents a JSON body with two spaces, keys kept in source
// order. The output buffer is pre-sized at 1.5x the input.
func formatJSON(body []byte) (string, bool) {
	var buf bytes.Buffer
	buf.Grow(len(body) + len(body)/2)
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

// truncateLines keeps at most n lines of s.
func truncateLines(s string, n int) (string, bool, int) {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[:i], true, n
			}
		}
	}
	return s, false, 0
}

func binaryPreview(body []byte) string {
	preview := body
	if len(preview) > binaryPreviewBytes {
		preview = preview[:binaryPreviewBytes]
	}
	return hex.Dump(preview)
}
