// Package history persists script executions: one row per run with its
// final state, checkpoints, error text and timing.
package history
