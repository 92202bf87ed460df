// Package queue persists queues and work items in SQLite and implements the
// work-queue lifecycle on top of them.
//
// The Store owns the database connection, schema initialization, and every
// state transition a work item can make: enqueue (queued), dispatch
// (queued -> in_progress, claimed by an agent), completion (in_progress ->
// completed/failed), administrative cancel and requeue, and the maintenance
// passes that remove orphaned, stale, or dangling rows and relocate failures to
// the dead-letter table.
//
// Agents and API callers in separate processes coordinate only through the
// database. Every mutating operation runs inside a BEGIN IMMEDIATE transaction
// so the dispatch count-then-claim sequence is serialized across connections
// and processes; a queue never has more than max_parallel_items rows
// in_progress.
//
// Ticket and task rows are the owning entities for work items. Their queue
// status is derived from the work_items table and never stored on the owner.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
