package httpfile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// CaptureBinding is a captured value as stored in session state. All values
// are strings; non-string JSON values are serialized.
type CaptureBinding struct {
	Name  string
	Value string
}

// validateJSONPath enforces the deliberate path subset: `$`, dotted field
// access and integer array indexing. Wildcards, filters, descendant
// operators and bracketed string keys are rejected before evaluation.
func validateJSONPath(path string) error {
	if path == "" || path[0] != '$' {
		return fmt.Errorf("path must start with $")
	}
	rest := path[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			if strings.HasPrefix(rest, "..") {
				return fmt.Errorf("descendant operator %q is not supported", "..")
			}
			rest = rest[1:]
			if strings.HasPrefix(rest, "*") {
				return fmt.Errorf("wildcard fields are not supported")
			}
			n := fieldLen(rest)
			if n == 0 {
				return fmt.Errorf("empty field name after '.'")
			}
			rest = rest[n:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return fmt.Errorf("unterminated index")
			}
			idx := rest[1:end]
			if idx == "*" {
				return fmt.Errorf("wildcard index is not supported")
			}
			if strings.HasPrefix(idx, "?") {
				return fmt.Errorf("filter expressions are not supported")
			}
			if !isDecimal(idx) {
				return fmt.Errorf("index %q is not an integer", idx)
			}
			rest = rest[end+1:]
		default:
			return fmt.Errorf("unexpected character %q", rest[0])
		}
	}
	return nil
}

func fieldLen(s string) int {
	for i, r := range s {
		if r == '.' || r == '[' {
			return i
		}
	}
	return len(s)
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// evalCapture extracts one capture's value from a response. The returned
// diagnostic is non-fatal: the response is still delivered to the formatter
// whether or not captures succeed.
func evalCapture(c Capture, resp *Response) (string, *Diagnostic) {
	switch c.Source.Kind {
	case CaptureHeader:
		if v, ok := resp.Headers.Get(c.Source.Header); ok {
			return v, nil
		}
		d := warnDiag(c.Line, CodeHeaderNotFound, "response has no header %q", c.Source.Header)
		return "", &d

	case CaptureJSONPath:
		return evalJSONPathCapture(c, resp)

	case CaptureXPath:
		d := errDiag(c.Line, CodeUnsupportedCaptureKind, "xpath capture sources are not supported")
		return "", &d

	default:
		d := errDiag(c.Line, CodeUnsupportedCaptureKind, "unknown capture source")
		return "", &d
	}
}

func evalJSONPathCapture(c Capture, resp *Response) (string, *Diagnostic) {
	if ct := detectContentType(resp.Headers, resp.Body); ct != ContentJSON {
		d := errDiag(c.Line, CodeNotJSON, "capture %q requires a JSON response body, got %s", c.Name, ct)
		return "", &d
	}
	if err := validateJSONPath(c.Source.Path); err != nil {
		d := errDiag(c.Line, CodeUnsupportedJSONPath, "path %q: %v", c.Source.Path, err)
		return "", &d
	}

	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		d := errDiag(c.Line, CodeNotJSON, "response body is not valid JSON: %v", err)
		return "", &d
	}
	value, err := jsonpath.Get(c.Source.Path, doc)
	if err != nil {
		d := warnDiag(c.Line, CodePathNotFound, "path %q matched nothing: %v", c.Source.Path, err)
		return "", &d
	}
	return captureValueString(value), nil
}

// captureValueString converts a resolved JSON value to its stored string
// form: primitives without quotes, objects and arrays via their JSON
// serialization.
func captureValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(out)
	}
}
