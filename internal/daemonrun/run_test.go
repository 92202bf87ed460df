package daemonrun

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"queueflow/internal/daemonctl"
	"queueflow/internal/testsupport"
)

func TestRunWritesPIDAndStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, Options{Output: io.Discard, LogLevel: "error"})
	}()

	pidPath := daemonctl.PIDPath(cfg)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if pid, err := daemonctl.ReadPID(pidPath); err == nil && pid == os.Getpid() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon did not write its pid file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	running, err := daemonctl.Running(cfg)
	if err != nil || !running {
		t.Fatalf("expected lock to be held: running=%v err=%v", running, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removal, got %v", err)
	}
	if running, _ := daemonctl.Running(cfg); running {
		t.Fatal("expected lock to be released")
	}
}

func TestRunRejectsInvalidSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cleanup.Schedule = "whenever"
	if err := Run(context.Background(), cfg, Options{Output: io.Discard}); err == nil {
		t.Fatal("expected preflight failure")
	}
}
