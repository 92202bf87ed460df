// Package daemon runs the long-lived queueflow process.
//
// It wires configuration, the queue store, the queue service and the metrics
// collector into a single lifecycle with flock-based locking to prevent
// multiple instances against one data directory. Start launches three loops
// under an errgroup: the HTTP API server (gorilla/mux routes under /api plus
// /metrics), the cron-driven cleanup scheduler and a periodic statistics
// refresh that feeds the Prometheus gauges.
//
// Requests carry a correlation id (X-Request-ID, generated when absent) that is
// attached to every log record for the request. Dispatch calls are rate limited
// per agent. When an API token is configured every /api route requires it as a
// bearer token; /metrics stays open for scrapers.
//
// Keep queue semantics in internal/queue and DTO conversion in internal/api;
// this package only handles transport, scheduling, startup and shutdown.
package daemon
