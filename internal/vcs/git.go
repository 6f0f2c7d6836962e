// Package vcs materializes a working tree for a node's source and
// derives its content hash: the VCS-native tree identity of HEAD,
// which is stable across clones and costs nothing to recompute (no
// re-hashing of file contents is performed).
package vcs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/pkg/errors"

	"github.com/da-x/spectree"
)

// ErrUnclean is returned when a path-based git source is not a clean
// working tree (modified or untracked files present).
type ErrUnclean struct {
	Path   string
	Status string
}

func (e *ErrUnclean) Error() string {
	return fmt.Sprintf("vcs: working tree %q is not clean:\n%s", e.Path, e.Status)
}

// ErrSRPMUnsupported is returned for any SourceKindSRPM node; SRPM
// sources are reserved surface syntax, not yet implemented.
var ErrSRPMUnsupported = errors.New("vcs: prebuilt SRPM sources are not yet supported")

// Result is what Acquire produces for one node: where its working tree
// lives on disk, and the content hash to feed the fingerprinter.
type Result struct {
	WorkingTreePath string
	ContentHash     string
}

// Acquirer materializes working trees for nodes, reusing the shared
// sources area for URL-based sources and opening path-based sources in
// place.
type Acquirer struct {
	// SourcesDir is the workspace's "sources/" directory, where
	// URL-sourced clones live, keyed by source key.
	SourcesDir string
}

// Acquire yields the working tree path and content hash for n. For a
// path-based source, the working tree must already exist and be clean.
// For a URL-based source, clones into SourcesDir/<key> on first use and
// fetches + fast-forwards on reuse; a non-fast-forward update (the
// remote has rewound) is a hard acquisition failure.
func (a *Acquirer) Acquire(n *spectree.Node) (Result, error) {
	switch n.Source.Kind {
	case spectree.SourceKindSRPM:
		return Result{}, ErrSRPMUnsupported
	case spectree.SourceKindGit:
		// fallthrough to below
	default:
		return Result{}, fmt.Errorf("vcs: unsupported source kind %q", n.Source.Kind)
	}

	if n.Source.Path != "" {
		return a.acquirePath(n.Source.Path)
	}
	return a.acquireURL(n.Key, n.Source.URL)
}

func (a *Acquirer) acquirePath(path string) (Result, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Result{}, errors.Wrapf(err, "vcs: opening working tree %q", path)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return Result{}, errors.Wrapf(err, "vcs: reading worktree %q", path)
	}

	status, err := wt.Status()
	if err != nil {
		return Result{}, errors.Wrapf(err, "vcs: checking working tree status %q", path)
	}
	if !status.IsClean() {
		return Result{}, &ErrUnclean{Path: path, Status: status.String()}
	}

	hash, err := treeHash(repo)
	if err != nil {
		return Result{}, errors.Wrapf(err, "vcs: deriving content hash for %q", path)
	}

	return Result{WorkingTreePath: path, ContentHash: hash}, nil
}

func (a *Acquirer) acquireURL(key spectree.SourceKey, url string) (Result, error) {
	dest := filepath.Join(a.SourcesDir, string(key))

	repo, err := git.PlainOpen(dest)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = git.PlainClone(dest, false, &git.CloneOptions{URL: url})
		if err != nil {
			return Result{}, errors.Wrapf(err, "vcs: cloning %q into %q", url, dest)
		}
	case err != nil:
		return Result{}, errors.Wrapf(err, "vcs: opening clone %q", dest)
	default:
		if err := fastForward(repo); err != nil {
			return Result{}, errors.Wrapf(err, "vcs: updating clone %q", dest)
		}
	}

	hash, err := treeHash(repo)
	if err != nil {
		return Result{}, errors.Wrapf(err, "vcs: deriving content hash for %q", dest)
	}

	return Result{WorkingTreePath: dest, ContentHash: hash}, nil
}

// fastForward fetches from origin and fast-forwards the checked-out
// branch. A diverged (non-fast-forward) history is returned as an
// error rather than silently resolved, per the "safe choice" the
// design calls for.
func fastForward(repo *git.Repository) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	err = wt.Pull(&git.PullOptions{RemoteName: "origin"})
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if strings.Contains(err.Error(), "non-fast-forward") {
		return errors.Wrap(err, "remote has rewound or diverged; refusing to reset")
	}
	return err
}

func treeHash(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", err
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", err
	}

	tree, err := commit.Tree()
	if err != nil {
		return "", err
	}

	return tree.Hash.String(), nil
}
