// Package workspace maintains one canonical clone per target repository and
// leases lightweight git worktrees from it, one per run. Concurrent
// experiments against the same repository share the clone's object store.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

type Manager struct {
	cacheDir string

	mu     sync.Mutex
	leases map[string]*Lease
}

// Lease is one isolated worktree on its own branch. Release removes both.
type Lease struct {
	Path   string
	Branch string

	cloneDir string
	m        *Manager
}

func NewManager(cacheDir string) *Manager {
	return &Manager{cacheDir: cacheDir, leases: map[string]*Lease{}}
}

// CloneKey is the deterministic directory name for a repository URL, so every
// experiment against the same URL lands on the same clone.
func CloneKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// EnsureClone clones the repository once (or reuses an existing clone) and
// makes sure commit is present, fetching if needed. Setup is guarded by a
// file lock so concurrent experiments do not race on the initial clone.
func (m *Manager) EnsureClone(ctx context.Context, url, commit string) (string, error) {
	if err := validateRef(url); err != nil {
		return "", fmt.Errorf("repo url: %w", err)
	}
	if err := validateRef(commit); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	clonesDir := filepath.Join(m.cacheDir, "clones")
	if err := os.MkdirAll(clonesDir, 0o755); err != nil {
		return "", fmt.Errorf("creating clone cache: %w", err)
	}
	key := CloneKey(url)
	cloneDir := filepath.Join(clonesDir, key)

	lock := flock.New(filepath.Join(clonesDir, key+".lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking clone %s: %w", key, err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(cloneDir, ".git")); err != nil {
		err := retryTransient(ctx, "clone", func() (string, error) {
			return git(ctx, "", "clone", "--no-checkout", url, cloneDir)
		})
		if err != nil {
			os.RemoveAll(cloneDir)
			return "", fmt.Errorf("cloning %s: %w", url, err)
		}
	}

	if !hasCommit(ctx, cloneDir, commit) {
		err := retryTransient(ctx, "fetch", func() (string, error) {
			return git(ctx, cloneDir, "fetch", "--all", "--tags")
		})
		if err != nil {
			return "", fmt.Errorf("fetching %s: %w", url, err)
		}
		if !hasCommit(ctx, cloneDir, commit) {
			return "", fmt.Errorf("commit %s not found in %s", commit, url)
		}
	}
	return cloneDir, nil
}

// Acquire creates a worktree for one run on a uniquely named branch sharing
// the clone's object store.
func (m *Manager) Acquire(ctx context.Context, cloneDir, commit, runID string) (*Lease, error) {
	if err := validateRef(commit); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	name := fmt.Sprintf("%s-%s", sanitizeRunID(runID), uuid.NewString()[:8])
	branch := "gauntlet/" + name
	wtDir := filepath.Join(m.cacheDir, "worktrees", name)
	if err := os.MkdirAll(filepath.Dir(wtDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree dir: %w", err)
	}

	if out, err := git(ctx, cloneDir, "worktree", "add", "-b", branch, wtDir, commit); err != nil {
		return nil, fmt.Errorf("adding worktree: %s: %w", out, err)
	}

	lease := &Lease{Path: wtDir, Branch: branch, cloneDir: cloneDir, m: m}
	m.mu.Lock()
	m.leases[branch] = lease
	m.mu.Unlock()
	return lease, nil
}

// Release removes the worktree and deletes its branch. Individual removal
// failures are logged, not fatal: a leaked worktree must not fail the run
// whose results are already on disk.
func (l *Lease) Release() {
	ctx := context.Background()
	if out, err := git(ctx, l.cloneDir, "worktree", "remove", "--force", l.Path); err != nil {
		log.Printf("warning: removing worktree %s: %s: %v", l.Path, out, err)
		os.RemoveAll(l.Path)
		git(ctx, l.cloneDir, "worktree", "prune")
	}
	if out, err := git(ctx, l.cloneDir, "branch", "-D", l.Branch); err != nil {
		log.Printf("warning: deleting branch %s: %s: %v", l.Branch, out, err)
	}
	l.m.mu.Lock()
	delete(l.m.leases, l.Branch)
	l.m.mu.Unlock()
}

// ActiveLeases reports how many worktrees are currently outstanding.
func (m *Manager) ActiveLeases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

func hasCommit(ctx context.Context, cloneDir, commit string) bool {
	_, err := git(ctx, cloneDir, "cat-file", "-e", commit+"^{commit}")
	return err == nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func validateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("option-like value %q", ref)
	}
	if strings.ContainsAny(ref, " \t\n") {
		return fmt.Errorf("whitespace in %q", ref)
	}
	return nil
}

func sanitizeRunID(runID string) string {
	runID = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, runID)
	if runID == "" {
		runID = "run"
	}
	return runID
}
