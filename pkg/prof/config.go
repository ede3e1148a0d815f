package prof

import "errors"

// Profiling errors.
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrSessionStopped indicates the session has already been stopped.
	ErrSessionStopped = errors.New("profile session stopped")
)

// Config names the files written by a [Session]. Empty paths are skipped.
type Config struct {
	CPUPath  string // CPU samples, recorded from Start until Stop
	HeapPath string // heap snapshot, written at Stop
}

// Enabled reports whether cfg asks for any profile at all.
func (c Config) Enabled() bool {
	return c.CPUPath != "" || c.HeapPath != ""
}
