package httpfile

import (
	"strings"
)

// maxExpansionDepth bounds recursive expansion of looked-up values. A chain
// of exactly this many nested references resolves; one more is reported as
// a circular reference.
const maxExpansionDepth = 10

// resolver performs one resolution pass over a RequestBlock. Scope order
// for an unqualified identifier: session captures, file variables, active
// environment, shared environment. `$`-prefixed identifiers go to the
// system-variable evaluator and bypass the name scopes.
type resolver struct {
	captures map[string]string
	fileVars map[string]string
	env      *EnvStore
	sys      *sysEvaluator

	line  int // anchor line for diagnostics
	diags []Diagnostic
}

// lookup walks the four name scopes in precedence order.
func (r *resolver) lookup(name string) (string, bool) {
	if v, ok := r.captures[name]; ok {
		return v, true
	}
	if v, ok := r.fileVars[name]; ok {
		return v, true
	}
	if r.env != nil {
		if v, ok := r.env.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

// resolveField resolves one substitution target. On a fatal outcome
// (circular reference, failed system call) the original text is returned
// and fatal is true; sibling fields still resolve.
func (r *resolver) resolveField(text string) (resolved string, fatal bool) {
	// Fast path: nothing to do for fields without a reference.
	if !strings.Contains(text, "{{") {
		return text, false
	}
	out, fatal := r.expand(text, 0, nil)
	if fatal {
		return text, true
	}
	return out, false
}

// expand substitutes every reference in text. Values produced by name
// lookups are themselves expanded, one depth level down, with the ordered
// stack of identifiers detecting cycles so the error can name the cycle.
// System-variable results are concrete and are not re-expanded.
func (r *resolver) expand(text string, depth int, stack []string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)

	for i := 0; i < len(text); {
		// Bulk-copy up to the next character that could start an escape or
		// a reference.
		next := strings.IndexAny(text[i:], `\{`)
		if next < 0 {
			b.WriteString(text[i:])
			break
		}
		b.WriteString(text[i : i+next])
		i += next

		switch {
		// Escaped braces render literally and are invisible to resolution.
		case strings.HasPrefix(text[i:], `\{{`):
			b.WriteString("{{")
			i += 3
		case strings.HasPrefix(text[i:], `\}}`):
			b.WriteString("}}")
			i += 3
		case strings.HasPrefix(text[i:], "{{"):
			end := strings.Index(text[i:], "}}")
			if end < 0 {
				r.diags = append(r.diags, warnDiag(r.line, CodeUnclosedBraces,
					"unclosed variable reference %q", text[i:]))
				b.WriteString(text[i:])
				return b.String(), false
			}
			inner := strings.TrimSpace(text[i+2 : i+end])
			i += end + 2

			value, fatal := r.substitute(inner, depth, stack)
			if fatal {
				return "", true
			}
			b.WriteString(value)
		default:
			// A lone backslash or single brace is ordinary text.
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String(), false
}

// substitute resolves the directive found inside one `{{...}}`.
func (r *resolver) substitute(inner string, depth int, stack []string) (string, bool) {
	if inner == "" {
		// Substituted with the literal braces so the downstream request
		// fails visibly rather than silently.
		r.diags = append(r.diags, errDiag(r.line, CodeEmptyVariable, "empty variable reference"))
		return "{{}}", false
	}

	if strings.HasPrefix(inner, "$") {
		val, err := r.sys.Eval(inner)
		if err != nil {
			r.diags = append(r.diags, errDiag(r.line, CodeBadSystemCall, "%s", err.Error()))
			return "", true
		}
		return val, false
	}

	for idx, seen := range stack {
		if seen == inner {
			cycle := append(append([]string{}, stack[idx:]...), inner)
			r.diags = append(r.diags, errDiag(r.line, CodeCircularReference,
				"circular variable reference: %s", strings.Join(cycle, " → ")))
			return "", true
		}
	}

	// Every name reference consumes one nesting level, whether or not its
	// value holds further references.
	if depth+1 > maxExpansionDepth {
		chain := append(append([]string{}, stack...), inner)
		r.diags = append(r.diags, errDiag(r.line, CodeCircularReference,
			"variable expansion exceeds depth %d: %s", maxExpansionDepth, strings.Join(chain, " → ")))
		return "", true
	}

	value, ok := r.lookup(inner)
	if !ok {
		r.diags = append(r.diags, warnDiag(r.line, CodeUndefinedVariable,
			"variable %q is not defined; substituting empty string", inner))
		return "", false
	}
	if !strings.Contains(value, "{{") && !strings.Contains(value, `\}}`) {
		return value, false
	}
	return r.expand(value, depth+1, append(stack, inner))
}

// resolveBlock produces a ResolvedRequest from a RequestBlock. Substitution
// targets are the URL, every header value, the body text and the right-hand
// side of every capture source. Header names are never substituted.
func (r *resolver) resolveBlock(block *RequestBlock) *ResolvedRequest {
	resolved := &ResolvedRequest{
		Name:        block.Name,
		Method:      block.Method,
		HTTPVersion: block.HTTPVersion,
	}
	r.line = block.Lines.Start

	var fatal bool
	resolved.URL, fatal = r.resolveField(block.RawURL)
	resolved.Failed = resolved.Failed || fatal

	resolved.Headers = make(Headers, len(block.Headers))
	for i, h := range block.Headers {
		value, fatal := r.resolveField(h.Value)
		resolved.Failed = resolved.Failed || fatal
		resolved.Headers[i] = Header{Name: h.Name, Value: value}
	}

	resolved.Body = block.Body
	if block.Body.Kind == BodyText {
		text, fatal := r.resolveField(block.Body.Text)
		resolved.Failed = resolved.Failed || fatal
		resolved.Body = TextBody(text)
	}

	resolved.Captures = make([]Capture, len(block.Captures))
	for i, c := range block.Captures {
		out := c
		if c.Source.Path != "" {
			path, fatal := r.resolveField(c.Source.Path)
			resolved.Failed = resolved.Failed || fatal
			out.Source.Path = path
		}
		if c.Source.Header != "" {
			name, fatal := r.resolveField(c.Source.Header)
			resolved.Failed = resolved.Failed || fatal
			out.Source.Header = name
		}
		resolved.Captures[i] = out
	}
	return resolved
}
