package actions

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// GitCheckout clones a repository into the run workspace.
//
// Parameters: url (required), branch (defaults to the run's BRANCH), dir
// (subdirectory of the workspace, default the workspace itself), depth
// (shallow clone depth), token (HTTP token auth).
type GitCheckout struct{}

func NewGitCheckout() *GitCheckout { return &GitCheckout{} }

func (g *GitCheckout) Name() string { return "git-checkout" }

func (g *GitCheckout) Exec(ctx context.Context, inv pipeline.Invocation) (int, error) {
	url := inv.With["url"]
	if url == "" {
		return -1, fmt.Errorf("git-checkout: url parameter is required")
	}

	branch := inv.With["branch"]
	if branch == "" {
		branch = envValue(inv.Env, "BRANCH")
	}

	target := inv.Dir
	if dir := inv.With["dir"]; dir != "" {
		target = filepath.Join(inv.Dir, dir)
	}

	opts := &git.CloneOptions{
		URL:      url,
		Progress: inv.Output,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.ReferenceName("refs/heads/" + branch)
		opts.SingleBranch = true
	}
	if depth := inv.With["depth"]; depth != "" {
		n, err := strconv.Atoi(depth)
		if err != nil || n < 0 {
			return -1, fmt.Errorf("git-checkout: invalid depth %q", depth)
		}
		opts.Depth = n
	}
	if token := inv.With["token"]; token != "" {
		opts.Auth = &githttp.BasicAuth{
			Username: "token", // GitHub/GitLab use "token" as username
			Password: token,
		}
	}

	repo, err := git.PlainCloneContext(ctx, target, false, opts)
	if err != nil {
		fmt.Fprintf(inv.Output, "clone of %s failed: %v\n", url, err)
		return 1, nil
	}

	if ref, herr := repo.Head(); herr == nil {
		fmt.Fprintf(inv.Output, "checked out %s at %s\n", ref.Name().Short(), ref.Hash().String()[:8])
	}
	return 0, nil
}

// envValue extracts a variable from a KEY=VALUE environment slice.
func envValue(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}
