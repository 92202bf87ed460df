package main

import (
	"strconv"
	"testing"

	"queueflow/internal/api"
)

func TestMaintenanceDeadLetterAndCleanup(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "ops", "--project", "1")
	qid := strconv.FormatInt(q.ID, 10)

	mustRun(t, env, "item", "enqueue", "prompt:1", "--queue", qid)
	mustRun(t, env, "item", "next", qid, "--agent", "worker")
	mustRun(t, env, "item", "fail", "prompt:1", "--message", "exhausted")

	out := mustRun(t, env, "maintenance", "dead-letter", "--queue", qid)
	requireContains(t, out, "Moved 1 failed items")

	letters := mustRunJSON[[]api.DeadLetter](t, env, "maintenance", "dead-letters")
	if len(letters) != 1 || letters[0].ItemType != "prompt" || letters[0].ErrorMessage != "exhausted" {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}
	out = mustRun(t, env, "maintenance", "dead-letters", "--queue", qid)
	requireContains(t, out, "prompt:1")

	resp := mustRunJSON[api.CleanupResponse](t, env, "maintenance", "cleanup", "--max-age", "1h", "--dead-letter-after", "0")
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected cleanup errors: %v", resp.Errors)
	}
	out = mustRun(t, env, "maintenance", "cleanup")
	requireContains(t, out, "Total removed")

	if _, _, err := runCLI(t, []string{"maintenance", "cleanup", "--max-age", "0s"}, env.configPath); err == nil {
		t.Fatal("expected non-positive max age to be rejected")
	}
}

func TestMaintenanceRefreshStats(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "stats", "--project", "1")
	mustRun(t, env, "item", "enqueue", "chat:1", "--queue", strconv.FormatInt(q.ID, 10))

	stats := mustRunJSON[[]api.QueueStats](t, env, "maintenance", "refresh-stats")
	if len(stats) != 1 || stats[0].Queued != 1 || stats[0].Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	out := mustRun(t, env, "maintenance", "refresh-stats")
	requireContains(t, out, "Refreshed 1 queues")
}

func TestHealthReportsDatabase(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRun(t, env, "queue", "create", "healthy", "--project", "1")

	out := mustRun(t, env, "health")
	requireContains(t, out, "== Queue Health ==")
	requireContains(t, out, "[OK] Healthy")
	requireContains(t, out, "Integrity check")

	out, _, err := runCLI(t, []string{"health", "-o", "yaml"}, env.configPath)
	if err != nil {
		t.Fatalf("health yaml: %v", err)
	}
	requireContains(t, out, "integrityCheck: true")

	if _, _, err := runCLI(t, []string{"health", "--strict"}, env.configPath); err != nil {
		t.Fatalf("expected healthy queue to pass strict mode: %v", err)
	}
}
