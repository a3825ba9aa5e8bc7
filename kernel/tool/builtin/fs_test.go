package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runTool(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	tools, err := All()
	if err != nil {
		t.Fatal(err)
	}
	for _, one := range tools {
		if one.Name() != name {
			continue
		}
		result, err := one.Run(context.Background(), args)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return result
	}
	t.Fatalf("tool %s not in builtin set", name)
	return nil
}

func TestReadOffsetAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	lines := []string{"one", "two", "three", "four", "five"}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := runTool(t, ReadToolName, map[string]any{"path": path, "offset": 1, "limit": 2})
	content, _ := result["content"].(string)
	if content != "two\nthree\n" {
		t.Fatalf("content = %q", content)
	}
	if truncated, _ := result["truncated"].(bool); !truncated {
		t.Fatal("expected truncated with more lines remaining")
	}
}

func TestReadMissingFile(t *testing.T) {
	read, err := NewRead()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := read.Run(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "absent")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "out.txt")
	result := runTool(t, WriteToolName, map[string]any{"path": path, "content": "payload"})
	if got, _ := result["bytes"].(float64); int(got) != len("payload") {
		t.Fatalf("bytes = %v", result["bytes"])
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "payload" {
		t.Fatalf("file content = %q", raw)
	}
}

func TestListMarksDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := runTool(t, ListToolName, map[string]any{"path": dir})
	entries, _ := result["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0] != "file.txt" || entries[1] != "sub/" {
		t.Fatalf("entries = %v", entries)
	}
}
