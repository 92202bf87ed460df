// Package daemonctl locates, starts and stops the queueflowd process from the
// CLI. The daemon lock doubles as the liveness probe: a lock another process
// holds means a daemon is running. Stop signals the pid recorded by the daemon
// runtime and escalates to SIGKILL after a grace period.
package daemonctl
