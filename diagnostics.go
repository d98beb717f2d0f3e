package httpfile

import "fmt"

// Severity grades a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Stable diagnostic codes. Consumers (the LSP surface among them) filter by
// code, so these strings are part of the public contract.
const (
	CodeInvalidMethod          = "invalid-method"
	CodeMissingURL             = "missing-url"
	CodeInvalidHeader          = "invalid-header"
	CodeDuplicateName          = "duplicate-name"
	CodeEmptyBlock             = "empty-block"
	CodeUndefinedVariable      = "undefined-variable"
	CodeCircularReference      = "circular-reference"
	CodeEmptyVariable          = "empty-variable"
	CodeUnclosedBraces         = "unclosed-braces"
	CodeBadSystemCall          = "bad-system-call"
	CodeUnsupportedJSONPath    = "unsupported-jsonpath"
	CodeUnsupportedCaptureKind = "unsupported-capture-kind"
	CodeNotJSON                = "not-json"
	CodePathNotFound           = "path-not-found"
	CodeHeaderNotFound         = "header-not-found"
	CodeResponseTooLarge       = "response-too-large"
	CodeInvalidEnvironment     = "invalid-environment"
)

// Range locates a diagnostic in the source file. Lines and columns are
// 1-based; a StartLine of 0 means the diagnostic has no useful location.
type Range struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

func lineRangeOf(line int) Range {
	return Range{StartLine: line, StartCol: 1, EndLine: line, EndCol: 1}
}

// Diagnostic is a non-fatal finding from the parser, resolver, capture
// engine or environment store. Diagnostics ride alongside results; they are
// never returned as errors.
type Diagnostic struct {
	Range      Range
	Severity   Severity
	Code       string
	Message    string
	Suggestion string
}

func (d Diagnostic) String() string {
	if d.Range.StartLine > 0 {
		return fmt.Sprintf("%s:%d %s: %s", d.Severity, d.Range.StartLine, d.Code, d.Message)
	}
	return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
}

func errDiag(line int, code, format string, args ...any) Diagnostic {
	return Diagnostic{Range: lineRangeOf(line), Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...)}
}

func warnDiag(line int, code, format string, args ...any) Diagnostic {
	return Diagnostic{Range: lineRangeOf(line), Severity: SeverityWarning, Code: code, Message: fmt.Sprintf(format, args...)}
}

func infoDiag(line int, code, format string, args ...any) Diagnostic {
	return Diagnostic{Range: lineRangeOf(line), Severity: SeverityInfo, Code: code, Message: fmt.Sprintf(format, args...)}
}
