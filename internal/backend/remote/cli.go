package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/executil"
	"github.com/da-x/spectree/internal/remotestate"
)

// Tool is the external hosted-build CLI invoked by CLIClient, e.g. a
// copr-cli-compatible tool.
var Tool = "copr-cli"

// CLIClient implements Submitter by shelling out to Tool, matching the
// same executil.Run idiom every other backend uses for its external
// tool.
type CLIClient struct {
	// Tool overrides the package-level Tool var, primarily for tests.
	Tool string
}

// NewCLIClient returns a CLIClient. The tool argument overrides Tool
// when non-empty.
func NewCLIClient(tool string) *CLIClient {
	if tool == "" {
		tool = Tool
	}
	return &CLIClient{Tool: tool}
}

// Submit runs "<tool> build <project> <srpmPath> [--exclude-chroot ...]"
// and expects the job ID as the sole line of stdout.
func (c *CLIClient) Submit(ctx context.Context, project, srpmPath string, excludeChroots []string) (string, error) {
	args := []string{"build", project, srpmPath}
	for _, ch := range excludeChroots {
		args = append(args, "--exclude-chroot", ch)
	}

	res, err := executil.Run(ctx, "", nil, c.Tool, args...)
	if err != nil {
		return "", errors.Wrapf(err, "remote: %s build failed: %s", c.Tool, res.Stderr)
	}

	jobID := strings.TrimSpace(res.Stdout)
	if jobID == "" {
		return "", fmt.Errorf("remote: %s produced no job id", c.Tool)
	}
	return jobID, nil
}

// Poll runs "<tool> status <jobID>" and expects a single status token
// on the first line of stdout, optionally followed by "chroot=status"
// pairs on subsequent lines.
func (c *CLIClient) Poll(ctx context.Context, jobID string) (remotestate.Status, map[string]string, error) {
	res, err := executil.Run(ctx, "", nil, c.Tool, "status", jobID)
	if err != nil {
		return "", nil, errors.Wrapf(err, "remote: %s status failed: %s", c.Tool, res.Stderr)
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", nil, fmt.Errorf("remote: %s status produced no output", c.Tool)
	}

	status := remotestate.Status(strings.TrimSpace(lines[0]))

	var chroots map[string]string
	for _, line := range lines[1:] {
		name, st, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if chroots == nil {
			chroots = map[string]string{}
		}
		chroots[strings.TrimSpace(name)] = strings.TrimSpace(st)
	}

	return status, chroots, nil
}

// PrepareSRPMViaRPMBuild builds a source RPM from node's working tree
// at sourcePath by invoking rpmbuild -bs against its spec file, writing
// the SRPM into a fresh temporary directory under stagedDepsPath. The
// resulting SRPM path is the single artifact the hosted build pipeline
// accepts as input.
func PrepareSRPMViaRPMBuild(ctx context.Context, node *spectree.Node, sourcePath, stagedDepsPath string) (string, error) {
	outDir, err := os.MkdirTemp(stagedDepsPath, ".srpm-*")
	if err != nil {
		return "", errors.Wrap(err, "remote: allocating srpm output dir")
	}

	specPath := filepath.Join(sourcePath, string(node.Key)+".spec")

	args := []string{"-bs", "--define", fmt.Sprintf("_srcrpmdir %s", outDir)}
	for _, p := range node.BuildParams {
		args = append(args, "--define", p)
	}
	args = append(args, specPath)

	res, err := executil.Run(ctx, sourcePath, nil, "rpmbuild", args...)
	if err != nil {
		return "", errors.Wrapf(err, "remote: rpmbuild -bs failed: %s", res.Stderr)
	}

	return findSRPM(outDir)
}

func findSRPM(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "remote: reading %q", dir)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".src.rpm") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("remote: no .src.rpm produced in %q", dir)
}
