package main

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/OnslaughtSnail/helmsman/kernel/prompt"
)

type workspaceContext struct {
	CWD    string
	Key    string
	Prompt *prompt.Workspace
}

// resolveWorkspaceContext inspects the current directory and, when it is
// inside a git repository, folds branch and commit state into the prompt
// workspace section. A non-git directory is not an error.
func resolveWorkspaceContext() (workspaceContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return workspaceContext{}, fmt.Errorf("cli: resolve cwd: %w", err)
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return workspaceContext{}, fmt.Errorf("cli: resolve absolute cwd: %w", err)
	}
	ws := workspaceContext{
		CWD:    abs,
		Key:    workspaceKey(abs),
		Prompt: &prompt.Workspace{Root: abs},
	}
	fillGitState(abs, ws.Prompt)
	return ws, nil
}

func fillGitState(dir string, ws *prompt.Workspace) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return
	}
	head, err := repo.Head()
	if err != nil {
		return
	}
	if head.Name().IsBranch() {
		ws.Branch = head.Name().Short()
	}
	ws.Commit = head.Hash().String()
	if len(ws.Commit) > 12 {
		ws.Commit = ws.Commit[:12]
	}
	wt, err := repo.Worktree()
	if err != nil {
		return
	}
	status, err := wt.Status()
	if err != nil {
		return
	}
	ws.Dirty = !status.IsClean()
}

func workspaceKey(path string) string {
	sum := sha1.Sum([]byte(filepath.Clean(path)))
	short := hex.EncodeToString(sum[:8])
	base := sanitizeKeyPart(filepath.Base(path))
	if base == "" {
		base = "workspace"
	}
	return base + "-" + short
}

func sanitizeKeyPart(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
