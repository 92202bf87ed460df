package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"queueflow/internal/api"
)

func TestTicketCascadeDispatchComplete(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "release", "--project", "1")
	qid := strconv.FormatInt(q.ID, 10)

	ticket := mustRunJSON[api.Ticket](t, env, "ticket", "create", "ship it", "--project", "1", "--task", "build", "--task", "test")
	if len(ticket.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", ticket.Tasks)
	}
	tid := strconv.FormatInt(ticket.ID, 10)

	cascade := mustRunJSON[api.CascadeResponse](t, env, "ticket", "enqueue", tid, "--queue", qid, "--cascade", "--priority", "2")
	if cascade.Ticket.Priority != 2 || len(cascade.Tasks) != 2 {
		t.Fatalf("unexpected cascade: %+v", cascade)
	}

	out := mustRun(t, env, "item", "next", qid, "--agent", "agent-1")
	requireContains(t, out, "Claimed ticket:"+tid+" for agent-1 (attempt 1)")

	out = mustRun(t, env, "item", "next", qid, "--agent", "agent-2")
	requireContains(t, out, "Nothing to dispatch (parallel limit reached)")

	done := mustRunJSON[api.WorkItem](t, env, "item", "complete", "ticket:"+tid)
	if done.Status != "completed" {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	// A second completion is rejected rather than silently repeated.
	if _, _, err := runCLI(t, []string{"item", "complete", "ticket:" + tid}, env.configPath); err == nil {
		t.Fatal("expected completing a finished item to fail")
	}

	shown := mustRun(t, env, "ticket", "show", tid)
	requireContains(t, shown, "Completed")
	requireContains(t, shown, "build")

	items := mustRunJSON[[]api.WorkItem](t, env, "item", "list", "--queue", qid, "--status", "queued")
	if len(items) != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", len(items))
	}
	for _, item := range items {
		if item.ItemType != "task" {
			t.Fatalf("expected only tasks queued, got %+v", item)
		}
	}
}

func TestItemPausedQueueReportsReason(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "hold", "--project", "1")
	qid := strconv.FormatInt(q.ID, 10)
	mustRun(t, env, "item", "enqueue", "chat:5", "--queue", qid)
	mustRun(t, env, "queue", "pause", qid)

	resp := mustRunJSON[api.DispatchResponse](t, env, "item", "next", qid, "--agent", "a")
	if resp.Item != nil || resp.Reason != "paused" {
		t.Fatalf("expected paused dispatch, got %+v", resp)
	}
}

func TestItemFailRequeueCancel(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "agents", "--project", "1")
	qid := strconv.FormatInt(q.ID, 10)

	mustRun(t, env, "item", "enqueue", "prompt:1", "--queue", qid, "--priority", "1")
	mustRun(t, env, "item", "enqueue", "prompt:2", "--queue", qid, "--priority", "9")

	mustRun(t, env, "item", "next", qid, "--agent", "worker")
	failed := mustRunJSON[api.WorkItem](t, env, "item", "fail", "prompt:1", "--message", "model timeout")
	if failed.Status != "failed" || failed.ErrorMessage != "model timeout" {
		t.Fatalf("unexpected failed item: %+v", failed)
	}

	show := mustRun(t, env, "item", "show", "prompt:1")
	requireContains(t, show, "model timeout")

	requeue := mustRunJSON[api.RequeueItemsResult](t, env, "item", "requeue", "prompt:1", "prompt:2", "prompt:99")
	if requeue.UpdatedCount != 1 {
		t.Fatalf("expected one requeue, got %+v", requeue)
	}
	outcomes := map[string]api.RequeueItemOutcome{}
	for _, r := range requeue.Items {
		outcomes[r.Ref.String()] = r.Outcome
	}
	if outcomes["prompt:1"] != api.RequeueItemUpdated ||
		outcomes["prompt:2"] != api.RequeueItemNotRetryable ||
		outcomes["prompt:99"] != api.RequeueItemNotFound {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	out := mustRun(t, env, "item", "cancel", "prompt:2")
	requireContains(t, out, "Cancelled 1 of 1 items")

	if _, _, err := runCLI(t, []string{"item", "show", "prompt:404"}, env.configPath); err == nil ||
		!strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"item", "cancel", "widget:1"}, env.configPath); err == nil {
		t.Fatal("expected unknown item type to be rejected")
	}
}

func TestItemBatchManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "batch", "--project", "1")
	ticket := mustRunJSON[api.Ticket](t, env, "ticket", "create", "batched", "--project", "1", "--task", "one")

	manifest := filepath.Join(t.TempDir(), "items.yaml")
	content := "items:\n" +
		"  - itemType: ticket\n    itemId: " + strconv.FormatInt(ticket.ID, 10) + "\n    queueId: " + strconv.FormatInt(q.ID, 10) + "\n" +
		"  - itemType: task\n    itemId: " + strconv.FormatInt(ticket.Tasks[0].ID, 10) + "\n    queueId: " + strconv.FormatInt(q.ID, 10) + "\n    priority: 1\n" +
		"  - itemType: chat\n    itemId: 77\n    queueId: " + strconv.FormatInt(q.ID, 10) + "\n"
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, env, "item", "batch", "-f", manifest)
	requireContains(t, out, "Enqueued 3 items")

	list := mustRun(t, env, "item", "list")
	requireContains(t, list, "chat:77")
	requireContains(t, list, "task:"+strconv.FormatInt(ticket.Tasks[0].ID, 10))
}

func TestItemBatchRejectsInvalidManifestAtomically(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "strict", "--project", "1")
	qid := strconv.FormatInt(q.ID, 10)

	manifest := filepath.Join(t.TempDir(), "bad.yaml")
	content := "items:\n" +
		"  - itemType: chat\n    itemId: 1\n    queueId: " + qid + "\n" +
		"  - itemType: ticket\n    itemId: 4040\n    queueId: " + qid + "\n"
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, []string{"item", "batch", "-f", manifest}, env.configPath); err == nil {
		t.Fatal("expected batch with unknown ticket to fail")
	}
	items := mustRunJSON[[]api.WorkItem](t, env, "item", "list", "--queue", qid)
	if len(items) != 0 {
		t.Fatalf("expected no items after failed batch, got %d", len(items))
	}

	unknown := filepath.Join(t.TempDir(), "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("items:\n  - itemKind: chat\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, []string{"item", "batch", "-f", unknown}, env.configPath); err == nil ||
		!strings.Contains(err.Error(), "parse manifest") {
		t.Fatalf("expected manifest parse error, got %v", err)
	}
}

func TestTaskAddDeleteEnqueue(t *testing.T) {
	env := setupCLITestEnv(t)
	q := mustRunJSON[api.Queue](t, env, "queue", "create", "tasks", "--project", "1")
	ticket := mustRunJSON[api.Ticket](t, env, "ticket", "create", "parent", "--project", "1")
	tid := strconv.FormatInt(ticket.ID, 10)

	task := mustRunJSON[api.Task](t, env, "task", "add", "child", "--ticket", tid)
	if task.TicketID != ticket.ID {
		t.Fatalf("unexpected task: %+v", task)
	}
	taskID := strconv.FormatInt(task.ID, 10)

	item := mustRunJSON[api.WorkItem](t, env, "task", "enqueue", taskID, "--queue", strconv.FormatInt(q.ID, 10))
	if item.ItemType != "task" || item.Status != "queued" {
		t.Fatalf("unexpected item: %+v", item)
	}

	out := mustRun(t, env, "task", "delete", taskID)
	requireContains(t, out, "Deleted task "+taskID)
	out = mustRun(t, env, "task", "delete", taskID)
	requireContains(t, out, "No task "+taskID)

	out = mustRun(t, env, "ticket", "delete", tid)
	requireContains(t, out, "Deleted ticket "+tid)
}
