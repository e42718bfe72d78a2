package jormungandr

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeLedger(t *testing.T, body string) *Process {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jormungandr")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake ledger: %v", err)
	}
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), path)
}

func TestStartLeaderRunsUntilStopped(t *testing.T) {
	p := fakeLedger(t, "exec sleep 30")

	if err := p.StartLeader(context.Background(), "secret.yaml", "config.yaml", "block0.bin"); err != nil {
		t.Fatalf("StartLeader() err=%v", err)
	}
	if !p.Running() {
		t.Fatalf("Running()=false after start")
	}
	// second start is a no-op while alive
	if err := p.StartLeader(context.Background(), "secret.yaml", "config.yaml", "block0.bin"); err != nil {
		t.Fatalf("StartLeader() again err=%v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() err=%v", err)
	}
	if p.Running() {
		t.Fatalf("Running()=true after stop")
	}
}

func TestStartLeaderRestartsAfterExit(t *testing.T) {
	p := fakeLedger(t, "exit 0")

	if err := p.StartLeader(context.Background(), "s", "c", "b"); err != nil {
		t.Fatalf("StartLeader() err=%v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("fake ledger did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := p.StartLeader(context.Background(), "s", "c", "b"); err != nil {
		t.Fatalf("StartLeader() after exit err=%v", err)
	}
	_ = p.Stop()
}

func TestStartLeaderRequiresPaths(t *testing.T) {
	p := New(nil, "")
	if err := p.StartLeader(context.Background(), "", "c", "b"); err == nil {
		t.Fatalf("StartLeader() expected error for missing secret path")
	}
}

func TestStartLeaderMissingBinary(t *testing.T) {
	p := New(nil, filepath.Join(t.TempDir(), "missing"))
	if err := p.StartLeader(context.Background(), "s", "c", "b"); err == nil {
		t.Fatalf("StartLeader() expected error for missing binary")
	}
}

func TestStopWithoutStart(t *testing.T) {
	if err := New(nil, "").Stop(); err != nil {
		t.Fatalf("Stop() err=%v", err)
	}
}
