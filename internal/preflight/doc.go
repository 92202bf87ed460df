// Package preflight provides readiness checks for the filesystem paths and
// endpoints queueflow depends on.
//
// These checks run in two contexts:
//   - The daemon runtime calls RunAll before opening the store and refuses to
//     start when a required check fails.
//   - The CLI "queueflow doctor" command prints every result, including the
//     reachability of a running daemon's API (CheckDaemonAPI).
//
// Checks never mutate state; a failed check carries a human-readable Detail.
package preflight
