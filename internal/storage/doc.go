// Package storage provides the optional persistence layer.
//
// It currently supports:
//   - Sent-key tracking (cross-invocation idempotency)
//   - Dispatch audit appends (per-channel outcomes, for manual replay)
package storage
