// Package pkg provides shared utilities for the softboot loader.
//
// This package contains common functionality used across the upload,
// image, and boot subsystems, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for protocol, session, and load errors
//   - Component identifiers for log filtering
//   - Result codes used by the wire status report
//
// # Logging
//
// The logging subsystem wraps [log/slog] with loader-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSession, "upload started", "size", total)
//
// # Errors
//
// Loader errors are defined as sentinel values and wrapped with call
// site context:
//
//	if errors.Is(err, pkg.ErrOutOfBounds) {
//	    // Reject the chunk, keep the session
//	}
package pkg
