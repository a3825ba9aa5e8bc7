package envload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadNearestFindsParentEnv(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(child, 0o755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(root, ".env")
	if err := os.WriteFile(envPath, []byte("ENVLOAD_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(child)
	t.Setenv("ENVLOAD_TEST_KEY", "")
	os.Unsetenv("ENVLOAD_TEST_KEY")

	got, err := LoadNearest()
	if err != nil {
		t.Fatal(err)
	}
	if got != envPath {
		t.Fatalf("loaded %q, want %q", got, envPath)
	}
	if value := os.Getenv("ENVLOAD_TEST_KEY"); value != "from-file" {
		t.Fatalf("ENVLOAD_TEST_KEY = %q", value)
	}
}

func TestLoadNearestKeepsExistingEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ENVLOAD_KEEP_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("ENVLOAD_KEEP_KEY", "from-process")

	if _, err := LoadNearest(); err != nil {
		t.Fatal(err)
	}
	if value := os.Getenv("ENVLOAD_KEEP_KEY"); value != "from-process" {
		t.Fatalf("existing env overridden: %q", value)
	}
}
