// Package pkg provides shared utilities for the dfurt device stack.
//
// This package contains common functionality used by the device stack,
// its HALs, and class drivers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDFU, "detach accepted", "timeout", 255)
//
// # Errors
//
// Common USB errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // The device rejected the request
//	}
package pkg
