// Package logx configures reportpush's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The zero Logger value is a safe no-op, which keeps tests quiet.
package logx
