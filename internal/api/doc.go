// Package api defines wire-format types and the queue service facade shared by
// the HTTP daemon and the CLI. It translates internal queue models into
// transport-friendly DTOs so consumers never couple to storage types.
//
// # Key Types
//
// Queue, WorkItem, DeadLetter, QueueStats: transport representations of the
// queue registry, admitted work, relocated failures and aggregate snapshots.
//
// DispatchResponse: the outcome of a dispatch call. Type is the claimed item's
// type or "none", in which case Reason says why (paused, empty,
// parallel-limit-reached).
//
// CleanupResponse/HealthResponse: reconciliation counts and health reports.
//
// # Service
//
// QueueService wraps the queue store, fills request defaults from
// configuration, converts results to DTOs and reports dispatch and cleanup
// outcomes to an optional Observer (the metrics collector in the daemon).
//
// # Errors
//
// StatusCode classifies queue sentinel errors into HTTP status codes and
// ErrorCode into stable machine-readable codes. Client errors map to 4xx and
// persistence failures to 503 so callers know a retry is safe.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums (queue.Status, queue.ItemType) are exposed
// as lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
