// Package vcs provides version control integration for the content root:
// the session-end commit handshake and a change watcher.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/linguabridge/linguabridge/internal/logging"
)

// Committer performs the session-end commit handshake on the content root.
// Local commit is the durability boundary; pushing to the remote is
// advisory and any push failure is swallowed. Unpushed history rides along
// with the next successful push.
type Committer struct {
	dir    string
	remote string
}

// NewCommitter creates a Committer for the given directory. remote may be
// empty to disable pushing.
func NewCommitter(dir, remote string) *Committer {
	return &Committer{dir: dir, remote: remote}
}

// IsRepo reports whether the directory is inside a git repository.
func (c *Committer) IsRepo(ctx context.Context) bool {
	_, err := c.git(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Dirty reports whether the repository has uncommitted changes.
func (c *Committer) Dirty(ctx context.Context) (bool, error) {
	out, err := c.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitSessionNotes stages and commits all content changes with a
// deterministic message, then attempts a best-effort push. Returns whether
// a commit was made and whether the push succeeded. A clean tree is a
// no-op. Only a staging/commit error is returned; push errors are logged
// and swallowed.
func (c *Committer) CommitSessionNotes(ctx context.Context, topic string, day time.Time) (committed, pushed bool, err error) {
	log := logging.Component("vcs")

	if !c.IsRepo(ctx) {
		log.Debug().Str("dir", c.dir).Msg("content root is not a git repository, skipping commit")
		return false, false, nil
	}

	dirty, err := c.Dirty(ctx)
	if err != nil {
		return false, false, err
	}
	if !dirty {
		log.Debug().Msg("no content changes to commit")
		return false, false, nil
	}

	if _, err := c.git(ctx, "add", "-A"); err != nil {
		return false, false, fmt.Errorf("git add: %w", err)
	}

	msg := fmt.Sprintf("%s: session notes %s", topic, day.Format("2006-01-02"))
	if _, err := c.git(ctx, "commit", "-m", msg); err != nil {
		return false, false, fmt.Errorf("git commit: %w", err)
	}

	log.Info().Str("message", msg).Msg("committed session notes")

	if c.remote == "" {
		return true, false, nil
	}

	if _, err := c.git(ctx, "push", c.remote); err != nil {
		// Best effort: the next session's push carries this commit forward.
		log.Warn().Err(err).Str("remote", c.remote).Msg("push failed, continuing")
		return true, false, nil
	}

	return true, true, nil
}

// git runs a git subcommand in the committer's directory.
func (c *Committer) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
