// Package daemonrun owns the queueflowd process lifecycle: signal handling,
// logger construction, preflight checks, the pid file and the daemon itself.
// Both the queueflowd binary and "queueflow daemon run" call Run.
package daemonrun
