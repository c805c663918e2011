package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reportsync/internal/config"
	"reportsync/internal/logging"
)

// GitStore keeps the shared area in a git repository and drives it through
// the git CLI. A configured remote that does not exist in the clone leaves
// the store in local-only mode: commits are recorded but never pushed.
type GitStore struct {
	dir    string
	remote string
	branch string
	env    []string

	// managed paths are cleaned of untracked files on Sync.
	managed []string
	log     *slog.Logger
}

// OpenGit opens the repository at dir, initializing an empty one when dir
// is not yet a repository. managed lists the root-relative paths whose
// untracked content Sync may discard.
func OpenGit(ctx context.Context, dir string, cfg config.GitConfig, managed ...string) (*GitStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	g := &GitStore{
		dir:     abs,
		remote:  cfg.Remote,
		branch:  cfg.Branch,
		managed: managed,
		log:     logging.New("gitstore"),
		env: []string{
			"GIT_AUTHOR_NAME=" + cfg.AuthorName,
			"GIT_AUTHOR_EMAIL=" + cfg.AuthorEmail,
			"GIT_COMMITTER_NAME=" + cfg.AuthorName,
			"GIT_COMMITTER_EMAIL=" + cfg.AuthorEmail,
			"GIT_TERMINAL_PROMPT=0",
		},
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create repository dir: %w", err)
		}
		if _, err := g.git(ctx, "init", "-q"); err != nil {
			return nil, err
		}
		if _, err := g.git(ctx, "symbolic-ref", "HEAD", "refs/heads/"+g.branch); err != nil {
			return nil, err
		}
		g.log.Info("initialized repository", "dir", abs)
	} else if err != nil {
		return nil, fmt.Errorf("stat repository: %w", err)
	}
	if g.remote != "" {
		if _, err := g.git(ctx, "remote", "get-url", g.remote); err != nil {
			g.log.Warn("remote not configured, commits stay local", "remote", g.remote)
			g.remote = ""
		}
	}
	return g, nil
}

func (g *GitStore) Root() string { return g.dir }

// Sync fetches the branch and hard-resets the working tree onto it.
func (g *GitStore) Sync(ctx context.Context) error {
	target := ""
	if g.remote != "" {
		out, err := g.git(ctx, "ls-remote", "--heads", g.remote, g.branch)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) != "" {
			if _, err := g.git(ctx, "fetch", "-q", g.remote, g.branch); err != nil {
				return err
			}
			target = g.remote + "/" + g.branch
		}
	}
	if target == "" && g.hasHead(ctx) {
		target = "HEAD"
	}
	if target != "" {
		if _, err := g.git(ctx, "reset", "-q", "--hard", target); err != nil {
			return err
		}
	}
	if len(g.managed) > 0 {
		args := append([]string{"clean", "-fdq", "--"}, g.managed...)
		if _, err := g.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Publish stages paths, commits, and pushes. A rejected push is ErrConflict.
func (g *GitStore) Publish(ctx context.Context, msg string, paths ...string) error {
	var specs []string
	for _, p := range paths {
		if g.known(ctx, p) {
			specs = append(specs, p)
		}
	}
	if len(specs) == 0 {
		return nil
	}
	if _, err := g.git(ctx, append([]string{"add", "-A", "--"}, specs...)...); err != nil {
		return err
	}
	if _, err := g.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		g.log.Debug("no changes to commit", "message", msg)
		return nil
	}
	if _, err := g.git(ctx, "commit", "-q", "-m", msg); err != nil {
		return err
	}
	if g.remote == "" {
		return nil
	}
	out, err := g.git(ctx, "push", "-q", g.remote, "HEAD:refs/heads/"+g.branch)
	if err != nil {
		if isRejected(out + err.Error()) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// ModTime is the commit time of the last commit touching path.
func (g *GitStore) ModTime(ctx context.Context, path string) (time.Time, error) {
	if !g.hasHead(ctx) {
		return time.Time{}, nil
	}
	out, err := g.git(ctx, "log", "-1", "--format=%ct", "--", path)
	if err != nil {
		return time.Time{}, err
	}
	s := strings.TrimSpace(out)
	if s == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// known reports whether path exists on disk or is tracked, so that git add
// is never handed a pathspec that matches nothing.
func (g *GitStore) known(ctx context.Context, path string) bool {
	if _, err := os.Lstat(filepath.Join(g.dir, filepath.FromSlash(path))); err == nil {
		return true
	}
	out, err := g.git(ctx, "ls-files", "--", path)
	return err == nil && strings.TrimSpace(out) != ""
}

func (g *GitStore) hasHead(ctx context.Context) bool {
	_, err := g.git(ctx, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

func (g *GitStore) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(), g.env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String() + stderr.String(),
			fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func isRejected(out string) bool {
	for _, marker := range []string{"rejected", "non-fast-forward", "fetch first", "stale info"} {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}
