// Package prof records pprof profiles for a single run of a dfurt command.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/dfurt-sim
//
// Without the tag [Start] returns an inert [Session] and [Available] is
// false, so callers can keep their profiling flags wired unconditionally.
//
// A [Session] records a CPU profile from [Start] until [Session.Stop] and
// writes a heap snapshot when it stops:
//
//	s, err := prof.Start(prof.Config{CPUPath: "cpu.prof", HeapPath: "heap.prof"})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Only one session may record CPU samples at a time; a second [Start]
// with a CPU path returns [ErrCPUProfileActive].
package prof
