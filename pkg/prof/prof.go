//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Available reports whether profiling support is compiled in.
const Available = true

var (
	// cpuMutex protects cpuActive.
	cpuMutex sync.Mutex

	// cpuActive indicates whether some session is recording CPU samples.
	cpuActive bool
)

// Session is one profiling run started by [Start].
type Session struct {
	cfg     Config
	cpuFile *os.File
	mutex   sync.Mutex
	stopped bool
}

// Start begins a profiling session. When cfg.CPUPath is set, CPU samples
// are recorded until [Session.Stop].
func Start(cfg Config) (*Session, error) {
	s := &Session{cfg: cfg}
	if cfg.CPUPath == "" {
		return s, nil
	}

	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return nil, ErrCPUProfileActive
	}

	f, err := os.Create(cfg.CPUPath)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	s.cpuFile = f
	cpuActive = true
	return s, nil
}

// Stop ends CPU recording and writes the heap snapshot. Errors from both
// steps are joined. A second call returns [ErrSessionStopped].
func (s *Session) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return ErrSessionStopped
	}
	s.stopped = true

	var errs []error

	if s.cpuFile != nil {
		cpuMutex.Lock()
		pprof.StopCPUProfile()
		cpuActive = false
		cpuMutex.Unlock()

		if err := s.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cpu profile: %w", err))
		}
		s.cpuFile = nil
	}

	if s.cfg.HeapPath != "" {
		if err := writeHeap(s.cfg.HeapPath); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// writeHeap writes an up-to-date heap profile to path.
func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer f.Close()

	// Materialize the allocations of the finished run.
	runtime.GC()

	if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
