package httpfile

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// System-call failure kinds, reported inside bad-system-call diagnostics.
const (
	sysErrMissingFormat      = "MissingFormat"
	sysErrUnknownFormat      = "UnknownFormat"
	sysErrMalformedOffset    = "MalformedOffset"
	sysErrMissingArgs        = "MissingArgs"
	sysErrNotInteger         = "NotInteger"
	sysErrInvertedRange      = "InvertedRange"
	sysErrMissingRequiredEnv = "MissingRequiredEnv"
	sysErrMissingDotEnv      = "MissingDotEnv"
	sysErrUnknownFunction    = "UnknownFunction"
)

// SystemCallError is a failed system-variable evaluation. It aborts
// resolution of the field it occurred in, but not of sibling fields.
type SystemCallError struct {
	Kind    string
	Call    string
	Message string
}

func (e *SystemCallError) Error() string {
	return fmt.Sprintf("%s in {{%s}}: %s", e.Kind, e.Call, e.Message)
}

func sysErr(kind, call, format string, args ...any) *SystemCallError {
	return &SystemCallError{Kind: kind, Call: call, Message: fmt.Sprintf(format, args...)}
}

// sysEvaluator evaluates `$`-prefixed references. One evaluator lives for
// exactly one resolution pass: the base instant and the .env contents are
// captured once, so every $timestamp/$datetime/$dotenv in the pass agrees,
// while each $guid call still yields a fresh UUID.
type sysEvaluator struct {
	now           time.Time
	workspaceRoot string
	lookupEnv     func(string) (string, bool)

	dotenv       map[string]string
	dotenvLoaded bool

	// Overridable in tests.
	newGUID func() string
	randInt func(n int) int
}

func newSysEvaluator(workspaceRoot string, lookupEnv func(string) (string, bool)) *sysEvaluator {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return &sysEvaluator{
		now:           time.Now().UTC(),
		workspaceRoot: workspaceRoot,
		lookupEnv:     lookupEnv,
		newGUID:       uuid.NewString,
		randInt:       rand.IntN,
	}
}

// Eval evaluates a system call as written inside the braces, e.g.
// "$randomInt 1 10". Arguments are literal: they are not themselves
// subject to variable substitution.
func (e *sysEvaluator) Eval(call string) (string, error) {
	fields := strings.Fields(call)
	if len(fields) == 0 {
		return "", sysErr(sysErrUnknownFunction, call, "empty system call")
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "$guid", "$uuid":
		return e.newGUID(), nil
	case "$timestamp":
		return e.evalTimestamp(call, args)
	case "$datetime":
		return e.evalDatetime(call, args)
	case "$randomInt":
		return e.evalRandomInt(call, args)
	case "$processEnv":
		return e.evalProcessEnv(call, args)
	case "$dotenv":
		return e.evalDotEnv(call, args)
	default:
		return "", sysErr(sysErrUnknownFunction, call, "unknown system variable %s", name)
	}
}

func (e *sysEvaluator) evalTimestamp(call string, args []string) (string, error) {
	offset, err := parseOffset(call, args)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(e.now.Add(offset).Unix(), 10), nil
}

func (e *sysEvaluator) evalDatetime(call string, args []string) (string, error) {
	if len(args) == 0 {
		return "", sysErr(sysErrMissingFormat, call, "expected iso8601 or rfc1123")
	}
	var layout string
	switch strings.ToLower(args[0]) {
	case "iso8601":
		layout = time.RFC3339
	case "rfc1123":
		layout = time.RFC1123
	default:
		return "", sysErr(sysErrUnknownFormat, call, "unsupported format %q", args[0])
	}
	offset, err := parseOffset(call, args[1:])
	if err != nil {
		return "", err
	}
	return e.now.Add(offset).Format(layout), nil
}

func (e *sysEvaluator) evalRandomInt(call string, args []string) (string, error) {
	if len(args) < 2 {
		return "", sysErr(sysErrMissingArgs, call, "expected min and max")
	}
	minVal, errMin := strconv.Atoi(args[0])
	maxVal, errMax := strconv.Atoi(args[1])
	if errMin != nil || errMax != nil {
		return "", sysErr(sysErrNotInteger, call, "min and max must be integers")
	}
	if minVal > maxVal {
		return "", sysErr(sysErrInvertedRange, call, "min %d exceeds max %d", minVal, maxVal)
	}
	return strconv.Itoa(e.randInt(maxVal-minVal+1) + minVal), nil
}

// evalProcessEnv reads a process environment variable. A leading % on the
// name marks it optional: unset then yields "" with no error.
func (e *sysEvaluator) evalProcessEnv(call string, args []string) (string, error) {
	if len(args) == 0 {
		return "", sysErr(sysErrMissingArgs, call, "expected a variable name")
	}
	name := args[0]
	optional := strings.HasPrefix(name, "%")
	if optional {
		name = name[1:]
	}
	if val, ok := e.lookupEnv(name); ok {
		return val, nil
	}
	if optional {
		return "", nil
	}
	return "", sysErr(sysErrMissingRequiredEnv, call, "process environment variable %s is not set", name)
}

func (e *sysEvaluator) evalDotEnv(call string, args []string) (string, error) {
	if len(args) == 0 {
		return "", sysErr(sysErrMissingArgs, call, "expected a variable name")
	}
	e.loadDotEnv()
	if val, ok := e.dotenv[args[0]]; ok {
		return val, nil
	}
	return "", sysErr(sysErrMissingDotEnv, call, "%s not found in .env", args[0])
}

// loadDotEnv discovers and reads a .env file once per resolution pass,
// walking up at most three parent directories from the workspace root.
func (e *sysEvaluator) loadDotEnv() {
	if e.dotenvLoaded {
		return
	}
	e.dotenvLoaded = true
	e.dotenv = map[string]string{}

	dir := e.workspaceRoot
	for depth := 0; depth <= envFileSearchDepth; depth++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			vars, readErr := godotenv.Read(candidate)
			if readErr != nil {
				slog.Warn("failed to read .env file", "path", candidate, "error", readErr)
				return
			}
			e.dotenv = vars
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// parseOffset parses the optional `[+|-]N <s|m|h|d>` offset tail. Both the
// two-token form ("+3 h") and the compact form ("+3h") are accepted.
func parseOffset(call string, args []string) (time.Duration, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		tok := args[0]
		if len(tok) < 2 {
			return 0, sysErr(sysErrMalformedOffset, call, "offset %q is incomplete", tok)
		}
		return buildOffset(call, tok[:len(tok)-1], tok[len(tok)-1:])
	case 2:
		return buildOffset(call, args[0], args[1])
	default:
		return 0, sysErr(sysErrMalformedOffset, call, "too many offset arguments")
	}
}

func buildOffset(call, numPart, unitPart string) (time.Duration, error) {
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, sysErr(sysErrMalformedOffset, call, "offset amount %q is not an integer", numPart)
	}
	var unit time.Duration
	switch unitPart {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return 0, sysErr(sysErrMalformedOffset, call, "unknown offset unit %q", unitPart)
	}
	return time.Duration(n) * unit, nil
}
