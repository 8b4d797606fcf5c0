// Package api implements the script monitor: a read-only HTTP REST API and a
// WebSocket relay of live script events.
//
// This package provides:
//   - REST endpoints listing the registered scripts and their schemas
//   - REST endpoints for the recorded executions (the history store)
//   - A WebSocket hub relaying state, checkpoint, metadata and log events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Scripts publish their events on "lsst/{ns}/script/{index}/{kind}". The
// server subscribes to every script topic of the namespace and broadcasts
// each message to WebSocket clients subscribed to "script.{kind}" or to
// "script.*".
//
// # Graceful Degradation
//
// Without a history repository the execution endpoints return 503. Without a
// transport the WebSocket relay stays silent; the REST endpoints still work.
package api
