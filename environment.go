package httpfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// sharedEnvName is the distinguished fallback entry in the configuration.
const sharedEnvName = "$shared"

// activeKey selects the initial active environment in the configuration.
const activeKey = "active"

// Configuration file names, in discovery order.
var envFileNames = []string{".http-client-env.json", "http-client.env.json"}

// envFileSearchDepth bounds the upward walk from the workspace root.
const envFileSearchDepth = 3

// ErrUnknownEnvironment is returned by SetActive for a name the
// configuration does not define.
var ErrUnknownEnvironment = errors.New("unknown environment")

// ActiveSource says how the currently active environment was selected.
type ActiveSource int

const (
	// ActiveNone: no environment is active.
	ActiveNone ActiveSource = iota
	// ActiveFileDefault: the configuration's "active" key selected it.
	ActiveFileDefault
	// ActiveExplicit: a SetActive call selected it.
	ActiveExplicit
)

func (s ActiveSource) String() string {
	switch s {
	case ActiveFileDefault:
		return "file-default"
	case ActiveExplicit:
		return "explicit"
	default:
		return "none"
	}
}

// Environment is one named variable collection.
type Environment struct {
	Name      string
	Variables map[string]string
}

// envSnapshot is the immutable state the store publishes. Reload swaps the
// whole snapshot behind a single pointer so readers never observe a partial
// configuration.
type envSnapshot struct {
	order        []string // environment names, source-file order, $shared excluded
	byName       map[string]map[string]string
	shared       map[string]string
	activeName   string
	activeSource ActiveSource
}

var emptySnapshot = &envSnapshot{byName: map[string]map[string]string{}, shared: map[string]string{}}

// EnvStore owns the named environments loaded from a JSON configuration
// file. Reads are lock-free against an atomic snapshot; Load and SetActive
// are the only writers.
type EnvStore struct {
	snap    atomic.Pointer[envSnapshot]
	path    atomic.Pointer[string]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewEnvStore returns an empty store.
func NewEnvStore() *EnvStore {
	s := &EnvStore{logger: slog.Default()}
	s.snap.Store(emptySnapshot)
	return s
}

// DiscoverEnvFile looks for a configuration file starting at root and
// walking up at most three parent directories. The first hit wins.
func DiscoverEnvFile(root string) (string, bool) {
	dir := root
	for depth := 0; depth <= envFileSearchDepth; depth++ {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// Load reads a configuration file and atomically replaces the store's
// snapshot. It returns the environment names in source order along with
// diagnostics for dropped keys. An explicitly selected environment survives
// a reload when the new configuration still defines it.
func (s *EnvStore) Load(path string) ([]string, []Diagnostic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading environment file %s: %w", path, err)
	}

	snap, diags, err := parseEnvConfig(raw)
	if err != nil {
		return nil, diags, fmt.Errorf("parsing environment file %s: %w", path, err)
	}

	prev := s.snap.Load()
	if prev.activeSource == ActiveExplicit {
		if _, stillThere := snap.byName[prev.activeName]; stillThere {
			snap.activeName = prev.activeName
			snap.activeSource = ActiveExplicit
		}
	}

	s.snap.Store(snap)
	s.path.Store(&path)
	s.logger.Debug("environment store loaded",
		"path", path, "environments", len(snap.order), "active", snap.activeName)
	return snap.order, diags, nil
}

// parseEnvConfig decodes the configuration with a token stream so the
// source order of environment names is preserved. Variables whose values
// are not strings are dropped with a diagnostic; an environment whose value
// is not an object fails the whole parse.
func parseEnvConfig(raw []byte) (*envSnapshot, []Diagnostic, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.New("top-level value must be an object")
	}

	snap := &envSnapshot{byName: make(map[string]map[string]string), shared: map[string]string{}}
	var diags []Diagnostic
	var requestedActive string

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, diags, err
		}
		key := keyTok.(string)

		switch key {
		case activeKey:
			var name string
			if err := dec.Decode(&name); err != nil {
				return nil, diags, fmt.Errorf("%q must be a string: %w", activeKey, err)
			}
			requestedActive = name
		default:
			var values map[string]json.RawMessage
			if err := dec.Decode(&values); err != nil {
				return nil, diags, fmt.Errorf("environment %q must be an object: %w", key, err)
			}
			vars := make(map[string]string, len(values))
			for k, v := range values {
				var str string
				if err := json.Unmarshal(v, &str); err != nil {
					diags = append(diags, warnDiag(0, CodeInvalidEnvironment,
						"environment %q: value of %q is not a string; key dropped", key, k))
					continue
				}
				vars[k] = str
			}
			if key == sharedEnvName {
				snap.shared = vars
			} else {
				snap.byName[key] = vars
				snap.order = append(snap.order, key)
			}
		}
	}

	if requestedActive != "" {
		if _, ok := snap.byName[requestedActive]; ok {
			snap.activeName = requestedActive
			snap.activeSource = ActiveFileDefault
		} else {
			diags = append(diags, warnDiag(0, CodeInvalidEnvironment,
				"%q names environment %q which is not defined; ignored", activeKey, requestedActive))
		}
	}
	return snap, diags, nil
}

// SetActive switches the active environment. The selection lives in session
// state for the workspace lifetime only; it is never written back to the
// configuration file.
func (s *EnvStore) SetActive(name string) error {
	for {
		prev := s.snap.Load()
		if _, ok := prev.byName[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
		}
		next := *prev
		next.activeName = name
		next.activeSource = ActiveExplicit
		if s.snap.CompareAndSwap(prev, &next) {
			return nil
		}
	}
}

// Get resolves an identifier against the active environment first and the
// $shared fallback second. Missing keys return ok=false, never an empty
// string.
func (s *EnvStore) Get(identifier string) (string, bool) {
	snap := s.snap.Load()
	if snap.activeName != "" {
		if v, ok := snap.byName[snap.activeName][identifier]; ok {
			return v, true
		}
	}
	if v, ok := snap.shared[identifier]; ok {
		return v, true
	}
	return "", false
}

// Environments lists the defined environment names in the stable,
// case-sensitive order of the source file. $shared is not listed.
func (s *EnvStore) Environments() []string {
	snap := s.snap.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

// Active reports the active environment name together with how it was
// selected. The name is never exposed without its provenance.
func (s *EnvStore) Active() (string, ActiveSource) {
	snap := s.snap.Load()
	return snap.activeName, snap.activeSource
}

// Watch reloads the store whenever the loaded configuration file changes.
// It returns immediately; the watch goroutine stops when Close is called.
func (s *EnvStore) Watch() error {
	pathPtr := s.path.Load()
	if pathPtr == nil {
		return errors.New("no environment file loaded")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(*pathPtr)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(*pathPtr), err)
	}
	s.watcher = w

	go func() {
		target := filepath.Clean(*pathPtr)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if _, _, err := s.Load(target); err != nil {
					s.logger.Warn("environment reload failed", "path", target, "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("environment watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the reload watcher, if one is running.
func (s *EnvStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
