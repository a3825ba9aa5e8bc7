package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSessionIndex_ListByWorkspace(t *testing.T) {
	idx, err := newSessionIndex(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
	})
	workspaceA := workspaceContext{CWD: "/tmp/a", Key: "a-key"}
	workspaceB := workspaceContext{CWD: "/tmp/b", Key: "b-key"}
	now := time.Now()
	if err := idx.UpsertSession(workspaceA, "s-a", "main", now); err != nil {
		t.Fatal(err)
	}
	if err := idx.TouchTurn(workspaceA, "s-a", "main", "hello", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertSession(workspaceB, "s-b", "main", now); err != nil {
		t.Fatal(err)
	}

	items, err := idx.ListWorkspaceSessions(workspaceA.Key, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 session in workspace A, got %d", len(items))
	}
	if items[0].SessionID != "s-a" {
		t.Fatalf("unexpected session id %q", items[0].SessionID)
	}
	if items[0].TurnCount != 1 {
		t.Fatalf("expected turn_count=1, got %d", items[0].TurnCount)
	}
	if items[0].LastUserInput != "hello" {
		t.Fatalf("unexpected last user input %q", items[0].LastUserInput)
	}
}

func TestSessionIndex_OrderedByActivity(t *testing.T) {
	idx, err := newSessionIndex(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
	})
	workspace := workspaceContext{CWD: "/tmp/w", Key: "w-key"}
	base := time.Now()
	if err := idx.UpsertSession(workspace, "old", "main", base); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertSession(workspace, "new", "main", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	items, err := idx.ListWorkspaceSessions(workspace.Key, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(items))
	}
	if items[0].SessionID != "new" {
		t.Fatalf("expected most recent first, got %q", items[0].SessionID)
	}
}

func TestSessionIndex_RequiresWorkspace(t *testing.T) {
	idx, err := newSessionIndex(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
	})
	if err := idx.UpsertSession(workspaceContext{}, "s", "main", time.Now()); err == nil {
		t.Fatal("expected error for missing workspace key")
	}
	if _, err := idx.ListWorkspaceSessions("  ", 10); err == nil {
		t.Fatal("expected error for blank workspace key")
	}
}
