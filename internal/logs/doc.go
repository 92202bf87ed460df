// Package logs reads the daemon's log file for `queueflow daemon logs`.
//
// Tail returns the last N lines with the byte offset where reading stopped;
// Follow polls from that offset and emits new lines until its context ends.
// A file that shrinks below the saved offset is treated as truncated and
// re-read from the start.
package logs
