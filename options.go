package httpfile

import "log/slog"

// SessionOption is a functional option for OpenSession.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
			s.env.logger = logger
		}
	}
}

// WithLookupEnv replaces the process-environment reader used by
// `$processEnv`. Mostly useful in tests.
func WithLookupEnv(lookup func(string) (string, bool)) SessionOption {
	return func(s *Session) {
		if lookup != nil {
			s.lookupEnv = lookup
		}
	}
}

// RunnerOption is a functional option for NewRunner.
type RunnerOption func(*Runner)

// WithTransport replaces the default net/http transport.
func WithTransport(t Transport) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.transport = t
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}
