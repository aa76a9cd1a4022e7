// Package logging provides structured logging for the exphttp server.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used across the server: connection lifecycle events,
// per-request access lines, TLS handshakes and WebSocket traffic.
//
// # Log Levels
//
//   - Debug: connection events, raw bytes, WebSocket frames, dispatch decisions
//   - Info: one access line per handled request, startup details
//   - Warn: framing timeouts, oversize requests, rejected credentials
//   - Error: handler faults, listener failures
//
// # Configuration
//
// Initialize logging once at startup:
//
//	if err := logging.Initialize("info", logging.FormatConsole); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// An empty level falls back to EXPHTTP_LOG_LEVEL; when that is empty too the
// logger is a no-op. FormatJSON switches to one JSON object per line.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has
// returned.
package logging
