// Package workspace owns the on-disk layout rooted at a user-supplied
// directory:
//
//	<root>/
//	  sources/<source-key>/            (cloned remotes only)
//	  builds/<build-key>/
//	    deps/                          (staged dependency repo)
//	    deps/repodata/                 (repo index)
//	    build/                         (published artifacts)
//
// Publication of a build key is atomic: callers build into a sibling
// staging directory and Publish renames it into place. A pre-existing
// build-key directory is a cache hit.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Workspace is the filesystem root for one orchestrator run.
type Workspace struct {
	Root string
}

// New ensures the workspace's top-level directories exist.
func New(root string) (*Workspace, error) {
	w := &Workspace{Root: root}
	for _, d := range []string{w.SourcesDir(), w.BuildsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "workspace: creating %q", d)
		}
	}
	return w, nil
}

// SourcesDir is "<root>/sources".
func (w *Workspace) SourcesDir() string {
	return filepath.Join(w.Root, "sources")
}

// BuildsDir is "<root>/builds".
func (w *Workspace) BuildsDir() string {
	return filepath.Join(w.Root, "builds")
}

// BuildDir is "<root>/builds/<build-key>", the published location for
// build-key. Its presence (as returned by Published) means a complete,
// successful publication.
func (w *Workspace) BuildDir(buildKey string) string {
	return filepath.Join(w.BuildsDir(), buildKey)
}

// ArtifactDir is "<root>/builds/<build-key>/build".
func (w *Workspace) ArtifactDir(buildKey string) string {
	return filepath.Join(w.BuildDir(buildKey), "build")
}

// DepsDir is "<root>/builds/<build-key>/deps".
func (w *Workspace) DepsDir(buildKey string) string {
	return filepath.Join(w.BuildDir(buildKey), "deps")
}

// Published reports whether build-key already has a complete
// publication on disk. If true, its build directory contains a
// complete, successful build's outputs.
func (w *Workspace) Published(buildKey string) bool {
	fi, err := os.Stat(w.BuildDir(buildKey))
	return err == nil && fi.IsDir()
}

// Staging allocates a fresh scratch directory for building build-key,
// distinct from its final location so a concurrent reader never
// observes a half-populated build directory under the final name.
func (w *Workspace) Staging(buildKey string) (*StagingDir, error) {
	pattern := fmt.Sprintf(".staging-%s-*", buildKey)
	dir, err := os.MkdirTemp(w.BuildsDir(), pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "workspace: allocating staging dir for %q", buildKey)
	}

	for _, sub := range []string{"deps", "build"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			os.RemoveAll(dir)
			return nil, errors.Wrapf(err, "workspace: creating %q", sub)
		}
	}

	return &StagingDir{
		path:     dir,
		buildKey: buildKey,
		ws:       w,
	}, nil
}

// StagingDir is a scratch build directory for one node's attempt. Call
// Publish on success or Discard on failure.
type StagingDir struct {
	path     string
	buildKey string
	ws       *Workspace
}

// Path is the staging directory root.
func (s *StagingDir) Path() string { return s.path }

// DepsDir is "<staging>/deps".
func (s *StagingDir) DepsDir() string { return filepath.Join(s.path, "deps") }

// ArtifactDir is "<staging>/build".
func (s *StagingDir) ArtifactDir() string { return filepath.Join(s.path, "build") }

// Publish atomically renames the staging directory into its final
// "<root>/builds/<build-key>" location. Rename within one filesystem
// is atomic, so a concurrent reader sees either nothing or the
// complete directory, never a partial one.
func (s *StagingDir) Publish() error {
	final := s.ws.BuildDir(s.buildKey)
	if err := os.Rename(s.path, final); err != nil {
		return errors.Wrapf(err, "workspace: publishing %q", s.buildKey)
	}
	return nil
}

// Discard removes the staging directory without publishing. The
// scheduler calls it when staging or a build fails, for every backend
// including the hosted one, unless KeepFailed is set; only a hosted
// build still pending when the run is cancelled keeps its staging
// directory.
func (s *StagingDir) Discard() error {
	if err := os.RemoveAll(s.path); err != nil {
		return errors.Wrapf(err, "workspace: discarding staging dir %q", s.path)
	}
	return nil
}
