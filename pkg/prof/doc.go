// Package prof provides on-demand profiling for the gadgetzero process.
//
// It wraps [runtime/pprof] behind a small API and is conditionally compiled
// with the "profile" build tag:
//
//	go build -tags profile
//
// Without the tag every exported function is a no-op, so the command-line
// profiling flags can stay wired in release builds without overhead.
//
// CPU profiling streams samples and needs explicit start/stop:
//
//	prof.StartCPU("cpu.prof")
//	defer prof.StopCPU()
//
// The other profiles are point-in-time snapshots:
//
//	prof.Write(prof.ProfileHeap, "heap.prof")
//	prof.Write(prof.ProfileGoroutine, "goroutine.prof")
package prof
