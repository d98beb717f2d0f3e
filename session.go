package httpfile

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// sessionState is the immutable record behind a Session. Every mutation
// swaps in a fresh copy, so readers take a cheap snapshot and are never
// affected by writers.
type sessionState struct {
	captures     map[string]string
	lastResponse *FormattedResponse
}

var emptySessionState = &sessionState{captures: map[string]string{}}

// Session is the per-workspace lifetime of captures, environment selection
// and the most recent response. It ends when the host closes the workspace.
type Session struct {
	workspaceRoot string
	env           *EnvStore
	state         atomic.Pointer[sessionState]
	logger        *slog.Logger
	lookupEnv     func(string) (string, bool)
}

// OpenSession starts a session rooted at workspaceRoot.
func OpenSession(workspaceRoot string, opts ...SessionOption) *Session {
	s := &Session{
		workspaceRoot: workspaceRoot,
		env:           NewEnvStore(),
		logger:        slog.Default(),
		lookupEnv:     os.LookupEnv,
	}
	s.state.Store(emptySessionState)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnvStore exposes the session's environment store.
func (s *Session) EnvStore() *EnvStore { return s.env }

// LoadEnvironments loads the environment configuration. With an empty path
// the standard file names are discovered from the workspace root upward.
// It returns the environment names in source order.
func (s *Session) LoadEnvironments(path string) ([]string, []Diagnostic, error) {
	if path == "" {
		discovered, ok := DiscoverEnvFile(s.workspaceRoot)
		if !ok {
			return nil, nil, fmt.Errorf("no environment file found under %s", s.workspaceRoot)
		}
		path = discovered
	}
	return s.env.Load(path)
}

// SetActiveEnvironment switches the active environment for this session.
func (s *Session) SetActiveEnvironment(name string) error {
	return s.env.SetActive(name)
}

// ActiveEnvironment reports the active environment and its provenance.
func (s *Session) ActiveEnvironment() (string, ActiveSource) {
	return s.env.Active()
}

// Parse tokenizes file content in the context of this session.
func (s *Session) Parse(path string, content []byte) (*Document, error) {
	return Parse(path, content)
}

// Resolve produces a ResolvedRequest from a block, consulting session
// captures, the block's file variables, the environment store and the
// system-variable evaluator. The evaluator is created here so the base
// instant and .env contents are fixed for this one pass.
func (s *Session) Resolve(block *RequestBlock) (*ResolvedRequest, []Diagnostic) {
	r := &resolver{
		captures: s.state.Load().captures,
		fileVars: block.FileVariables,
		env:      s.env,
		sys:      newSysEvaluator(s.workspaceRoot, s.lookupEnv),
	}
	resolved := r.resolveBlock(block)
	if resolved.Failed {
		s.logger.Debug("resolution failed for a field",
			"request", block.Name, "line", block.Lines.Start)
	}
	return resolved, r.diags
}

// ApplyCaptures runs the block's capture declarations against a response
// the caller has accepted, and installs the resulting bindings. Capture
// failures are non-fatal: they surface as diagnostics and the response is
// still delivered. Bindings overwrite earlier bindings of the same name.
func (s *Session) ApplyCaptures(block *RequestBlock, resp *Response) []Diagnostic {
	if len(block.Captures) == 0 {
		return nil
	}

	// Capture expressions are substitution targets too; resolve them with
	// the same scopes the request resolved with.
	r := &resolver{
		captures: s.state.Load().captures,
		fileVars: block.FileVariables,
		env:      s.env,
		sys:      newSysEvaluator(s.workspaceRoot, s.lookupEnv),
	}
	r.line = block.Lines.Start

	diags := []Diagnostic{}
	bindings := make([]CaptureBinding, 0, len(block.Captures))
	for _, c := range block.Captures {
		resolved := c
		if c.Source.Path != "" {
			path, fatal := r.resolveField(c.Source.Path)
			if fatal {
				continue
			}
			resolved.Source.Path = path
		}
		if c.Source.Header != "" {
			name, fatal := r.resolveField(c.Source.Header)
			if fatal {
				continue
			}
			resolved.Source.Header = name
		}

		value, diag := evalCapture(resolved, resp)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		bindings = append(bindings, CaptureBinding{Name: c.Name, Value: value})
	}
	diags = append(diags, r.diags...)

	if len(bindings) > 0 {
		s.installBindings(bindings)
	}
	return diags
}

func (s *Session) installBindings(bindings []CaptureBinding) {
	for {
		prev := s.state.Load()
		next := &sessionState{
			captures:     make(map[string]string, len(prev.captures)+len(bindings)),
			lastResponse: prev.lastResponse,
		}
		for k, v := range prev.captures {
			next.captures[k] = v
		}
		for _, b := range bindings {
			next.captures[b.Name] = b.Value
		}
		if s.state.CompareAndSwap(prev, next) {
			return
		}
	}
}

// Captures returns a copy of the current bindings.
func (s *Session) Captures() map[string]string {
	prev := s.state.Load()
	out := make(map[string]string, len(prev.captures))
	for k, v := range prev.captures {
		out[k] = v
	}
	return out
}

// ClearCaptures drops every binding.
func (s *Session) ClearCaptures() {
	for {
		prev := s.state.Load()
		next := &sessionState{captures: map[string]string{}, lastResponse: prev.lastResponse}
		if s.state.CompareAndSwap(prev, next) {
			return
		}
	}
}

// RecordResponse remembers the most recent formatted response.
func (s *Session) RecordResponse(f *FormattedResponse) {
	for {
		prev := s.state.Load()
		next := &sessionState{captures: prev.captures, lastResponse: f}
		if s.state.CompareAndSwap(prev, next) {
			return
		}
	}
}

// LastResponse returns the most recent formatted response, or nil.
func (s *Session) LastResponse() *FormattedResponse {
	return s.state.Load().lastResponse
}

// Close releases session resources (the environment watcher among them).
func (s *Session) Close() error {
	return s.env.Close()
}
