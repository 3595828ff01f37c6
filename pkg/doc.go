// Package pkg provides shared utilities for the gadgetzero stack.
//
// It contains the common functionality used by the gadget core and the
// controller implementations:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for the protocol, resource, transport, and
//     transfer-completion error classes
//   - The [CompletionStatus] classification for bulk transfer outcomes
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a per-subsystem component
// attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentGadget, "configured", "config", 2)
//
// # Errors
//
// Errors are sentinel values, tested with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrShutdown) {
//	    // Host went away; the device context is still usable.
//	}
package pkg
