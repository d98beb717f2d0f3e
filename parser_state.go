package httpfile

import (
	"log/slog"
	"strings"
)

// parserState holds the state during the parsing of a request file.
type parserState struct {
	doc *Document

	// File-scope variables accumulated so far. Each block gets a snapshot of
	// this map when it is closed.
	fileVariables map[string]string

	current *blockBuilder

	// regionHasSeparator is true once the current region was opened by a
	// `###` line; used to report empty regions between separators.
	regionHasSeparator bool
	regionStartLine    int
}

// blockBuilder assembles one RequestBlock.
type blockBuilder struct {
	label     string
	startLine int
	lastLine  int

	// Directives seen before the request line attach to the request that
	// opens later in the same region.
	name        string
	nameLine    int
	hasName     bool
	captures    []Capture
	hasRequest  bool
	invalid     bool
	method      Method
	rawURL      string
	httpVersion string
	headers     Headers
	bodyLines   []string
	parsingBody bool
	sawBodyGap  bool // a blank line after the request line: body starts next
	hasBodyText bool // at least one body line was appended
}

func newParserState(path string) *parserState {
	return &parserState{
		doc:             &Document{Path: path},
		fileVariables:   make(map[string]string),
		regionStartLine: 1,
	}
}

func (p *parserState) builder(line int) *blockBuilder {
	if p.current == nil {
		p.current = &blockBuilder{startLine: line}
		if p.regionHasSeparator {
			p.current.startLine = p.regionStartLine
		}
	}
	return p.current
}

func (p *parserState) processLine(line int, raw string) {
	trimmed := strings.TrimSpace(raw)
	parsingBody := p.current != nil && (p.current.parsingBody || p.current.sawBodyGap)

	switch determineLineType(trimmed, parsingBody) {
	case lineTypeSeparator:
		p.handleSeparator(line, trimmed)
	case lineTypeComment:
		p.handleComment(line, trimmed)
	case lineTypeDirective:
		p.handleDirective(line, trimmed)
	case lineTypeBlank:
		p.handleBlank(raw)
	case lineTypeContent:
		p.handleContent(line, trimmed, raw)
	}
}

// handleSeparator closes the current block and opens a new region. Text
// after the `###` is a section label for the new region.
func (p *parserState) handleSeparator(line int, trimmed string) {
	p.closeRegion(line - 1)
	p.regionHasSeparator = true
	p.regionStartLine = line
	label := strings.TrimSpace(trimmed[len(requestSeparator):])
	if label != "" {
		b := p.builder(line)
		b.label = label
		b.lastLine = line
	}
}

func (p *parserState) handleComment(line int, trimmed string) {
	var content string
	if strings.HasPrefix(trimmed, slashCommentPrefix) {
		content = strings.TrimSpace(trimmed[len(slashCommentPrefix):])
	} else {
		content = strings.TrimSpace(trimmed[len(commentPrefix):])
	}

	switch {
	case strings.HasPrefix(content, "@name"):
		p.handleNameDirective(line, content)
	case strings.HasPrefix(content, "@capture"):
		p.handleCaptureDirective(line, content)
	default:
		// Plain comment: structure is unaffected.
	}
}

// handleNameDirective processes `@name <identifier>`. The last @name in a
// block wins; earlier ones are reported as duplicates.
func (p *parserState) handleNameDirective(line int, content string) {
	rest := content[len("@name"):]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
		return // e.g. "@nametag" is an ordinary comment
	}
	name := strings.Join(strings.Fields(rest), " ")
	if name == "" {
		return
	}
	b := p.builder(line)
	if b.hasName {
		p.doc.Diagnostics = append(p.doc.Diagnostics,
			warnDiag(b.nameLine, CodeDuplicateName,
				"request name %q is overridden by a later @name directive", b.name))
	}
	b.name = name
	b.nameLine = line
	b.hasName = true
	b.lastLine = line
}

// handleCaptureDirective processes `@capture <binding> = <expr>` and
// attaches the capture to the current request, or to the next request to be
// opened in this region when none exists yet.
func (p *parserState) handleCaptureDirective(line int, content string) {
	m := reCapture.FindStringSubmatch(content)
	if m == nil {
		slog.Debug("ignoring malformed @capture comment", "line", line, "content", content)
		return
	}
	binding, expr := m[1], strings.TrimSpace(m[2])
	b := p.builder(line)
	b.captures = append(b.captures, Capture{Name: binding, Source: classifyCaptureExpr(expr), Line: line})
	b.lastLine = line
}

// classifyCaptureExpr maps a capture expression to its source kind. XPath
// forms are recognized so the capture engine can reject them with a stable
// code instead of misreading them as JSONPaths.
func classifyCaptureExpr(expr string) CaptureSource {
	switch {
	case strings.HasPrefix(expr, "headers."):
		return CaptureSource{Kind: CaptureHeader, Header: strings.TrimPrefix(expr, "headers.")}
	case strings.HasPrefix(expr, "xpath:"), strings.HasPrefix(expr, "/"):
		return CaptureSource{Kind: CaptureXPath, Path: expr}
	default:
		return CaptureSource{Kind: CaptureJSONPath, Path: expr}
	}
}

// handleDirective processes a file-scope `@key = value` line. The value is
// captured verbatim to end of line and trimmed; it is resolved lazily at
// request-resolution time, not here.
func (p *parserState) handleDirective(line int, trimmed string) {
	m := reDirective.FindStringSubmatch(trimmed)
	if m == nil {
		slog.Debug("ignoring malformed file directive", "line", line, "content", trimmed)
		return
	}
	key, value := m[1], strings.TrimSpace(m[2])
	p.fileVariables[key] = value
	p.doc.Directives = append(p.doc.Directives, FileDirective{Key: key, Value: value, Line: line})
}

func (p *parserState) handleBlank(raw string) {
	b := p.current
	if b == nil || !b.hasRequest {
		return
	}
	if b.parsingBody {
		// Blank lines inside the body are body content.
		b.bodyLines = append(b.bodyLines, raw)
		return
	}
	// First blank line after the request line and headers: the body starts
	// at the next content line.
	b.sawBodyGap = true
}

func (p *parserState) handleContent(line int, trimmed, raw string) {
	b := p.builder(line)
	b.lastLine = line

	if b.hasRequest && b.sawBodyGap && !b.parsingBody {
		b.parsingBody = true
	}
	if b.parsingBody {
		b.bodyLines = append(b.bodyLines, raw)
		b.hasBodyText = true
		return
	}
	if !b.hasRequest {
		p.handleRequestLine(line, trimmed, b)
		return
	}
	p.handleHeaderLine(line, trimmed, raw, b)
}

// handleRequestLine parses `METHOD URL [HTTP/version]`. Method tokens must
// be uppercase; anything else marks the block invalid but keeps it for
// display.
func (p *parserState) handleRequestLine(line int, trimmed string, b *blockBuilder) {
	methodToken, urlStr, version := splitRequestLine(trimmed)
	b.hasRequest = true

	method, known := ParseMethod(methodToken)
	if !known {
		b.invalid = true
		d := errDiag(line, CodeInvalidMethod, "unrecognized method %q", methodToken)
		if _, wouldMatch := ParseMethod(strings.ToUpper(methodToken)); wouldMatch {
			d.Suggestion = "methods must be uppercase: " + strings.ToUpper(methodToken)
		}
		p.doc.Diagnostics = append(p.doc.Diagnostics, d)
	}
	if urlStr == "" {
		b.invalid = true
		p.doc.Diagnostics = append(p.doc.Diagnostics,
			errDiag(line, CodeMissingURL, "request line has no URL"))
	}

	b.method = method
	b.rawURL = urlStr
	b.httpVersion = version
}

// handleHeaderLine parses a `Name: value` line between the request line and
// the body. A line with no colon is taken as the start of the body even
// without a preceding blank line.
func (p *parserState) handleHeaderLine(line int, trimmed, raw string, b *blockBuilder) {
	h, ok, badName := parseHeaderLine(trimmed)
	if badName {
		p.doc.Diagnostics = append(p.doc.Diagnostics,
			warnDiag(line, CodeInvalidHeader, "invalid header field name in %q", trimmed))
		return
	}
	if !ok {
		b.parsingBody = true
		b.bodyLines = append(b.bodyLines, raw)
		b.hasBodyText = true
		return
	}
	b.headers = append(b.headers, h)
}

// closeRegion finalizes the block being built, if any. endLine is the last
// line belonging to the region.
func (p *parserState) closeRegion(endLine int) {
	b := p.current
	p.current = nil
	if b == nil {
		if p.regionHasSeparator {
			p.doc.Diagnostics = append(p.doc.Diagnostics,
				infoDiag(p.regionStartLine, CodeEmptyBlock, "separator opens a block with no request"))
		}
		return
	}
	if !b.hasRequest {
		p.doc.Diagnostics = append(p.doc.Diagnostics,
			infoDiag(b.startLine, CodeEmptyBlock, "block has no request line"))
		return
	}

	body := Body{}
	if b.hasBodyText || len(b.bodyLines) > 0 && strings.Join(b.bodyLines, "") != "" {
		text := strings.Join(b.bodyLines, "\n")
		text = strings.TrimRight(text, " \t\r\n")
		body = TextBody(text)
	}

	last := b.lastLine
	if last < b.startLine {
		last = b.startLine
	}
	if endLine > 0 && last > endLine {
		last = endLine
	}

	vars := make(map[string]string, len(p.fileVariables))
	for k, v := range p.fileVariables {
		vars[k] = v
	}

	p.doc.Blocks = append(p.doc.Blocks, &RequestBlock{
		Name:          b.name,
		Label:         b.label,
		Method:        b.method,
		RawURL:        b.rawURL,
		HTTPVersion:   defaultHTTPVersion(b.httpVersion),
		Headers:       b.headers,
		Body:          body,
		Captures:      b.captures,
		Lines:         LineRange{Start: b.startLine, End: last},
		FileVariables: vars,
		Invalid:       b.invalid,
	})
}

func defaultHTTPVersion(v string) string {
	if v == "" {
		return "HTTP/1.1"
	}
	return v
}

// finalize flushes the last pending block at end of input.
func (p *parserState) finalize(lastLine int) {
	p.closeRegion(lastLine)
}
