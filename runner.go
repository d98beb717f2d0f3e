package httpfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
)

// RunResult collects everything produced for one request block.
type RunResult struct {
	Block       *RequestBlock
	Resolved    *ResolvedRequest
	Response    *Response
	Formatted   *FormattedResponse
	Diagnostics []Diagnostic
	Err         error
}

// Runner drives the full flow for a request file: parse, resolve each block
// in source order, send through the transport, apply captures, format.
// Per-request failures are aggregated; a failing request does not stop the
// file.
type Runner struct {
	session   *Session
	transport Transport
	logger    *slog.Logger
}

// NewRunner builds a runner around a session.
func NewRunner(session *Session, opts ...RunnerOption) *Runner {
	r := &Runner{
		session:   session,
		transport: NewHTTPTransport(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the runner's session.
func (r *Runner) Session() *Session { return r.session }

// ExecuteFile parses and executes every request in a file. It returns one
// RunResult per parsed block, invalid blocks included; the aggregated error
// covers transport failures and blocks that could not be sent.
func (r *Runner) ExecuteFile(ctx context.Context, path string) ([]*RunResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file %s: %w", path, err)
	}
	doc, err := r.session.Parse(path, content)
	if err != nil {
		return nil, err
	}

	var results []*RunResult
	var multiErr *multierror.Error
	for i, block := range doc.Blocks {
		result := r.executeBlock(ctx, block)
		result.Diagnostics = append(blockDiagnostics(doc, block), result.Diagnostics...)
		results = append(results, result)
		if result.Err != nil {
			multiErr = multierror.Append(multiErr, fmt.Errorf(
				"request %d (%s %s): %w", i+1, block.Method, block.RawURL, result.Err))
		}
	}
	return results, multiErr.ErrorOrNil()
}

// blockDiagnostics picks the parse diagnostics located inside a block.
func blockDiagnostics(doc *Document, block *RequestBlock) []Diagnostic {
	var out []Diagnostic
	for _, d := range doc.Diagnostics {
		if d.Range.StartLine >= block.Lines.Start && d.Range.StartLine <= block.Lines.End {
			out = append(out, d)
		}
	}
	return out
}

// executeBlock runs one block through resolve, send, capture and format.
func (r *Runner) executeBlock(ctx context.Context, block *RequestBlock) *RunResult {
	result := &RunResult{Block: block}

	if block.Invalid {
		result.Err = fmt.Errorf("block at line %d is invalid and was not sent", block.Lines.Start)
		return result
	}

	resolved, diags := r.session.Resolve(block)
	result.Resolved = resolved
	result.Diagnostics = diags
	if resolved.Failed {
		result.Err = fmt.Errorf("resolution failed for request at line %d", block.Lines.Start)
		return result
	}

	resp, err := r.transport.Send(ctx, resolved)
	if err != nil {
		result.Err = err
		return result
	}
	result.Response = resp

	// The response is accepted: captures bind now, then the formatter runs.
	captureDiags := r.session.ApplyCaptures(block, resp)
	result.Diagnostics = append(result.Diagnostics, captureDiags...)

	result.Formatted = Format(resp)
	r.session.RecordResponse(result.Formatted)

	r.logger.Debug("request executed",
		"method", resolved.Method, "url", resolved.URL,
		"status", result.Formatted.StatusLine, "duration", resp.Duration)
	return result
}
