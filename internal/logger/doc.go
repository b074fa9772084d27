// Package logger wraps zap to give the packaging pipeline:
//   - a global sugared logger with a console encoder (coloured on terminals),
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and a per-logger level override (WithLevel),
//   - convenience functions (Infof, DebugKV, WarnKV, etc.).
//
// Every pipeline stage receives a context and logs through the logger stored
// in it, so a verbose run can lower the level for that run only.
package logger
