// Package main hosts the queueflow CLI entrypoint and command graph.
//
// The Cobra-based command tree exposes queue administration, work-item
// dispatch for agents, owner (ticket/task) bookkeeping, maintenance passes,
// and daemon lifecycle control. Queue commands open the shared SQLite
// database directly; the daemon is only needed for the HTTP API and the
// scheduled cleanup, so every queue operation works whether it runs or not.
//
// Keep this package lean: add behavior to internal/queue or internal/api
// first, then surface it here as a command or flag.
package main
