package httpfile

import (
	"strings"
)

// xmlTokKind classifies the raw segments of an XML document.
type xmlTokKind int

const (
	xmlText xmlTokKind = iota
	xmlDecl            // <?xml ...?> and other processing instructions
	xmlComment
	xmlCDATA
	xmlDoctype
	xmlOpen
	xmlClose
	xmlSelfClose
)

type xmlTok struct {
	kind xmlTokKind
	raw  string
}

// formatXML reflows an XML body with two-space indentation per nesting
// level. Declarations, comments, CDATA sections, processing instructions
// and self-closing tags are preserved verbatim. Whitespace between elements
// is reflowed; whitespace inside text nodes is preserved. When scanXML
// rejects the document the caller falls back to the raw body.
func formatXML(body []byte) (string, bool) {
	toks, ok := scanXML(string(body))
	if !ok {
		return "", false
	}
	return renderXML(toks), true
}

// scanXML splits the document into tags and text without interpreting
// entities or attributes. ok is false for unterminated constructs and when
// the numbers of open and close tags differ; tag names are not matched.
func scanXML(src string) ([]xmlTok, bool) {
	var toks []xmlTok
	depth := 0
	for len(src) > 0 {
		lt := strings.IndexByte(src, '<')
		if lt < 0 {
			toks = appendTextTok(toks, src)
			break
		}
		if lt > 0 {
			toks = appendTextTok(toks, src[:lt])
			src = src[lt:]
		}

		var end int
		var kind xmlTokKind
		switch {
		case strings.HasPrefix(src, "<?"):
			kind = xmlDecl
			end = findTerminated(src, "?>")
		case strings.HasPrefix(src, "<!--"):
			kind = xmlComment
			end = findTerminated(src, "-->")
		case strings.HasPrefix(src, "<![CDATA["):
			kind = xmlCDATA
			end = findTerminated(src, "]]>")
		case strings.HasPrefix(src, "<!"):
			kind = xmlDoctype
			end = findTerminated(src, ">")
		case strings.HasPrefix(src, "</"):
			kind = xmlClose
			end = findTerminated(src, ">")
			depth--
		default:
			end = findTerminated(src, ">")
			if end > 0 && strings.HasSuffix(src[:end], "/>") {
				kind = xmlSelfClose
			} else {
				kind = xmlOpen
				depth++
			}
		}
		if end <= 0 {
			return nil, false
		}
		toks = append(toks, xmlTok{kind: kind, raw: src[:end]})
		src = src[end:]
	}
	if depth != 0 {
		return nil, false
	}
	return toks, true
}

// appendTextTok records a text segment, dropping segments that are only
// inter-element whitespace.
func appendTextTok(toks []xmlTok, text string) []xmlTok {
	if strings.TrimSpace(text) == "" {
		return toks
	}
	return append(toks, xmlTok{kind: xmlText, raw: text})
}

func findTerminated(src, terminator string) int {
	idx := strings.Index(src, terminator)
	if idx < 0 {
		return -1
	}
	return idx + len(terminator)
}

// renderXML emits the token stream with indentation. An element whose only
// content is a single text node is kept on one line so the text survives
// byte-for-byte.
func renderXML(toks []xmlTok) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch tok.kind {
		case xmlOpen:
			// <a>text</a> stays on one line; CDATA counts as text.
			if i+2 < len(toks) && (toks[i+1].kind == xmlText || toks[i+1].kind == xmlCDATA) && toks[i+2].kind == xmlClose {
				writeIndented(&b, depth, tok.raw+toks[i+1].raw+toks[i+2].raw)
				i += 2
				continue
			}
			writeIndented(&b, depth, tok.raw)
			depth++
		case xmlClose:
			depth--
			writeIndented(&b, depth, tok.raw)
		case xmlText:
			writeIndented(&b, depth, tok.raw)
		default:
			writeIndented(&b, depth, tok.raw)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeIndented(b *strings.Builder, depth int, s string) {
	if depth < 0 {
		depth = 0
	}
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
	b.WriteString(s)
	b.WriteByte('\n')
}
