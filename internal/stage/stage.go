// Package stage populates a node's "deps/" staging directory by
// hardlinking each ancestor's published build/ contents into place,
// then runs the external repo-index tool so "deps/repodata/" exists.
package stage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/da-x/spectree/internal/executil"
	"github.com/da-x/spectree/internal/workspace"
)

// RepoIndexTool is the external command used to build deps/repodata/.
// It is invoked as "<tool> <deps-dir>", matching createrepo_c's CLI.
var RepoIndexTool = "createrepo_c"

// Stager prepares a node's staged dependency repo.
type Stager struct {
	Workspace *workspace.Workspace
}

// Stage hardlinks the build/ contents of every ancestor build key in
// closure into "<staging>/deps/<ancestor-build-key>/", then runs the
// repo-index tool over "<staging>/deps". Every ancestor must already
// be published; Stage does not build anything itself.
func (s *Stager) Stage(ctx context.Context, staging *workspace.StagingDir, closure []string) error {
	for _, ancestorKey := range closure {
		src := s.Workspace.ArtifactDir(ancestorKey)
		dst := filepath.Join(staging.DepsDir(), ancestorKey)

		if err := hardlinkTree(src, dst); err != nil {
			return errors.Wrapf(err, "stage: linking ancestor %q", ancestorKey)
		}
	}

	if _, err := executil.Run(ctx, staging.DepsDir(), nil, RepoIndexTool, staging.DepsDir()); err != nil {
		return errors.Wrap(err, "stage: building repo index")
	}

	return nil
}

// hardlinkTree recreates src's directory structure at dst, hardlinking
// regular files. Hardlinking is mandatory for speed and disk usage;
// falling back to a copy is permitted only across device boundaries
// (EXDEV).
func hardlinkTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		if err := os.Link(path, target); err != nil {
			if isCrossDevice(err) {
				return copyFile(path, target)
			}
			return err
		}
		return nil
	})
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
