// Package chroot implements the local-chroot backend: it invokes a
// mock-compatible chroot build tool with the staged dependency repo
// added as an auxiliary repo and the node's build parameters forwarded
// as rpmbuild macro definitions.
package chroot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
	"github.com/da-x/spectree/internal/executil"
)

// Tool is the external chroot-build command, invoked as:
//
//	<tool> --root <chrootConfig> --resultdir <outputPath> --addrepo <stagedDepsPath> \
//	    --define "<param>" ... <specPath>
var Tool = "mock"

// Backend drives Tool against a configured chroot/mock root.
type Backend struct {
	// ChrootConfig names the mock root config (e.g. "epel-9-x86_64").
	ChrootConfig string
	// SpecPathFn, if set, overrides the default "<workingTree>/<key>.spec"
	// convention for locating the node's RPM spec file.
	SpecPathFn func(workingTree string) string
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "chroot" }

func (b *Backend) Build(ctx context.Context, node *spectree.Node, sourcePath, _, stagedDepsPath, outputPath string) (backend.Result, error) {
	if node.Source.Kind == spectree.SourceKindSRPM {
		return backend.Result{}, backend.ErrSRPMUnsupported
	}

	args := []string{
		"--root", b.ChrootConfig,
		"--resultdir", outputPath,
		"--addrepo", stagedDepsPath,
	}
	for _, p := range node.BuildParams {
		args = append(args, "--define", p)
	}

	specPath := defaultSpecPath(sourcePath, node.Key)
	if b.SpecPathFn != nil {
		specPath = b.SpecPathFn(sourcePath)
	}
	args = append(args, specPath)

	res, err := executil.Run(ctx, "", nil, Tool, args...)
	if err != nil {
		return backend.Result{
			Status: backend.StatusFailure,
			Reason: fmt.Sprintf("mock build failed (exit %d): %s", res.ExitCode, res.Stderr),
		}, nil
	}

	return backend.Result{Status: backend.StatusSuccess}, nil
}

// defaultSpecPath assumes the convention of a spec file named after the
// node's source key, sitting at the root of its working tree.
func defaultSpecPath(sourcePath string, key spectree.SourceKey) string {
	return filepath.Join(sourcePath, string(key)+".spec")
}
