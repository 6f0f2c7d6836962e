// Package container implements the container backend: it creates a
// container from the TargetOS image (or BuildToolImage), mounts the
// staged dependency repo as an auxiliary package repo, and runs the
// RPM build tool inside it. No image is built and no toolchain is
// installed: the image must already provide the rpmbuild-in-container
// command that buildCommand invokes.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/platforms"
	"github.com/cpuguy83/go-docker"
	"github.com/cpuguy83/go-docker/container"
	"github.com/cpuguy83/go-docker/container/containerapi"
	"github.com/pkg/errors"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
)

// pollInterval is how often the container's running state is polled
// for completion, since this minimal docker client exposes inspect
// rather than a blocking wait call.
var pollInterval = 500 * time.Millisecond

const sourceMountPath = "/srv/spectree/source"
const depsMountPath = "/srv/spectree/deps"
const outputMountPath = "/srv/spectree/build"

// Backend drives a throwaway container per build.
type Backend struct {
	// Client is the docker engine client. Required.
	Client *docker.Client
	// TargetOS selects the build image, e.g. "fedora:40".
	TargetOS string
	// BuildToolImage, if set, replaces TargetOS as the image the build
	// container is created from (primarily for tests).
	BuildToolImage string
	// Platform is an OCI platform string (e.g. "linux/arm64") the build
	// container should be scheduled on. Empty means the docker daemon's
	// own default.
	Platform string
	// DebugPrepare runs only the source-preparation phase, prints the
	// prepared source path, and deliberately returns failure so the
	// container is retained for inspection (its removal is skipped).
	DebugPrepare bool
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "container" }

func (b *Backend) image() string {
	if b.BuildToolImage != "" {
		return b.BuildToolImage
	}
	return b.TargetOS
}

func (b *Backend) Build(ctx context.Context, node *spectree.Node, sourcePath, _, stagedDepsPath, outputPath string) (backend.Result, error) {
	if node.Source.Kind == spectree.SourceKindSRPM {
		return backend.Result{}, backend.ErrSRPMUnsupported
	}

	var platform string
	if b.Platform != "" {
		p, err := platforms.Parse(b.Platform)
		if err != nil {
			return backend.Result{}, errors.Wrapf(err, "container: parsing platform %q", b.Platform)
		}
		platform = platforms.Format(p)
	}

	containers := b.Client.ContainerService()

	cmd := b.buildCommand(node)

	ctr, err := containers.Create(ctx, b.image(), func(cfg *container.CreateConfig) {
		cfg.Spec.Cmd = cmd
		if platform != "" {
			cfg.Spec.Env = append(cfg.Spec.Env, "SPECTREE_TARGET_PLATFORM="+platform)
		}
		cfg.Spec.HostConfig.Mounts = []containerapi.Mount{
			{Type: "bind", Source: sourcePath, Target: sourceMountPath},
			{Type: "bind", Source: stagedDepsPath, Target: depsMountPath, ReadOnly: true},
			{Type: "bind", Source: outputPath, Target: outputMountPath},
		}
	})
	if err != nil {
		return backend.Result{}, errors.Wrap(err, "container: creating build container")
	}

	if !b.DebugPrepare {
		defer containers.Remove(context.WithoutCancel(ctx), ctr.ID(), container.WithRemoveForce)
	}

	if err := ctr.Start(ctx); err != nil {
		return backend.Result{}, errors.Wrap(err, "container: starting build container")
	}

	exitCode, err := waitExit(ctx, ctr)
	if err != nil {
		return backend.Result{}, errors.Wrap(err, "container: waiting for build container")
	}

	if b.DebugPrepare {
		return backend.Result{
			Status: backend.StatusFailure,
			Reason: fmt.Sprintf("debug-prepare: container %s retained with prepared source at %s", ctr.ID(), sourceMountPath),
		}, nil
	}

	if exitCode != 0 {
		return backend.Result{
			Status: backend.StatusFailure,
			Reason: fmt.Sprintf("container build exited %d", exitCode),
		}, nil
	}

	return backend.Result{Status: backend.StatusSuccess}, nil
}

// waitExit polls the container's inspect state until it has stopped
// running, returning its exit code.
func waitExit(ctx context.Context, ctr *container.Container) (int, error) {
	for {
		inspect, err := ctr.Inspect(ctx)
		if err != nil {
			return 0, err
		}
		if !inspect.State.Running {
			return inspect.State.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *Backend) buildCommand(node *spectree.Node) []string {
	cmd := []string{"rpmbuild-in-container", "--source", sourceMountPath, "--addrepo", depsMountPath, "--resultdir", outputMountPath}
	if b.DebugPrepare {
		cmd = append(cmd, "--debug-prepare")
	}
	for _, p := range node.BuildParams {
		cmd = append(cmd, "--define", p)
	}
	return cmd
}
