// Package store provides SQLite-backed durable storage for push activation.
//
// The store is a flat key-value table. Every multi-key write goes through a
// Batch committed in a single transaction, so a crash mid-write never leaves
// a partially applied batch behind. The activation checkpoint (current
// persistable state plus the pending event queue) is one such batch.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a committed checkpoint survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Keys are namespaced by component: "device." for the local device identity,
// "push." for activation preferences and the checkpoint.
package store
