package workspace_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/gauntlet/internal/workspace"
)

func createTestRepo(t *testing.T) (dir, commit string) {
	t.Helper()
	dir = t.TempDir()
	runGit := func(args ...string) string {
		t.Helper()
		c := exec.Command("git", args...)
		c.Dir = dir
		out, err := c.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}
	runGit("init")
	runGit("config", "user.email", "test@test.com")
	runGit("config", "user.name", "Test")
	os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644)
	runGit("add", ".")
	runGit("commit", "-m", "initial")
	return dir, runGit("rev-parse", "HEAD")
}

func TestEnsureCloneAndAcquire(t *testing.T) {
	repo, commit := createTestRepo(t)
	m := workspace.NewManager(t.TempDir())
	ctx := context.Background()

	cloneDir, err := m.EnsureClone(ctx, repo, commit)
	if err != nil {
		t.Fatalf("EnsureClone: %v", err)
	}

	lease, err := m.Acquire(ctx, cloneDir, commit, "t0-sub-a-r1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !strings.HasPrefix(lease.Branch, "gauntlet/") {
		t.Errorf("branch = %q", lease.Branch)
	}
	content, err := os.ReadFile(filepath.Join(lease.Path, "hello.txt"))
	if err != nil {
		t.Fatalf("reading checked-out file: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q", content)
	}
	if m.ActiveLeases() != 1 {
		t.Errorf("active leases = %d, want 1", m.ActiveLeases())
	}

	lease.Release()
	if m.ActiveLeases() != 0 {
		t.Errorf("active leases after release = %d, want 0", m.ActiveLeases())
	}
	if _, err := os.Stat(lease.Path); !os.IsNotExist(err) {
		t.Error("worktree dir should be removed on release")
	}
}

func TestEnsureCloneIdempotent(t *testing.T) {
	repo, commit := createTestRepo(t)
	m := workspace.NewManager(t.TempDir())
	ctx := context.Background()

	first, err := m.EnsureClone(ctx, repo, commit)
	if err != nil {
		t.Fatalf("EnsureClone: %v", err)
	}
	second, err := m.EnsureClone(ctx, repo, commit)
	if err != nil {
		t.Fatalf("EnsureClone again: %v", err)
	}
	if first != second {
		t.Errorf("clone dirs differ: %q vs %q", first, second)
	}
}

func TestEnsureCloneUnknownCommit(t *testing.T) {
	repo, _ := createTestRepo(t)
	m := workspace.NewManager(t.TempDir())
	bogus := strings.Repeat("deadbeef", 5)
	if _, err := m.EnsureClone(context.Background(), repo, bogus); err == nil {
		t.Error("expected error for unknown commit")
	}
}

func TestLeasesAreIsolated(t *testing.T) {
	repo, commit := createTestRepo(t)
	m := workspace.NewManager(t.TempDir())
	ctx := context.Background()

	cloneDir, err := m.EnsureClone(ctx, repo, commit)
	if err != nil {
		t.Fatalf("EnsureClone: %v", err)
	}
	a, err := m.Acquire(ctx, cloneDir, commit, "run-a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer a.Release()
	b, err := m.Acquire(ctx, cloneDir, commit, "run-b")
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	defer b.Release()

	if a.Path == b.Path {
		t.Fatal("leases share a path")
	}
	if err := os.WriteFile(filepath.Join(a.Path, "hello.txt"), []byte("scribbled"), 0o644); err != nil {
		t.Fatalf("writing in lease a: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(b.Path, "hello.txt"))
	if err != nil {
		t.Fatalf("reading in lease b: %v", err)
	}
	if string(content) != "hello" {
		t.Error("write in one lease leaked into another")
	}
}

func TestEnsureCloneRejectsBadRefs(t *testing.T) {
	m := workspace.NewManager(t.TempDir())
	ctx := context.Background()
	if _, err := m.EnsureClone(ctx, "--upload-pack=evil", "abc123"); err == nil {
		t.Error("expected error for option-like url")
	}
	if _, err := m.EnsureClone(ctx, "https://example.com/repo.git", ""); err == nil {
		t.Error("expected error for empty commit")
	}
	if _, err := m.EnsureClone(ctx, "https://example.com/repo.git", "abc 123"); err == nil {
		t.Error("expected error for whitespace in commit")
	}
}

func TestCloneKeyDeterministic(t *testing.T) {
	a := workspace.CloneKey("https://example.com/repo.git")
	b := workspace.CloneKey("https://example.com/repo.git")
	if a != b {
		t.Error("same url must produce the same key")
	}
	if a == workspace.CloneKey("https://example.com/other.git") {
		t.Error("different urls must produce different keys")
	}
	if len(a) != 16 {
		t.Errorf("key length = %d", len(a))
	}
}
