// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder writing to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (InfoKV, WarnKV, ErrorKV and friends).
//
// Packaging stages accept a context and extract the logger from it, so the
// release name and stage travel with every message.
package logger
