package runner

import "context"

// Debugger launches a resolved command under a debug session. The
// program still connects back to the reporter socket through the
// environment, so streamed results flow exactly as in process mode.
type Debugger interface {
	// Launch starts a session for program in dir with the given extra
	// environment. It returns false when the debugger declined to start,
	// which fails the run without marking individual tests.
	Launch(ctx context.Context, program string, env []string, dir string) (bool, error)
}
