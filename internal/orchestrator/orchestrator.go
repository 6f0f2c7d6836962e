// Package orchestrator is the façade binding spec loading, graph
// resolution, workspace/scheduler wiring, and backend selection into
// one entry point for cmd/spectree.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/cpuguy83/go-docker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
	"github.com/da-x/spectree/internal/backend/chroot"
	"github.com/da-x/spectree/internal/backend/container"
	"github.com/da-x/spectree/internal/backend/null"
	"github.com/da-x/spectree/internal/backend/remote"
	"github.com/da-x/spectree/internal/remotestate"
	"github.com/da-x/spectree/internal/scheduler"
	"github.com/da-x/spectree/internal/specfile"
	"github.com/da-x/spectree/internal/stage"
	"github.com/da-x/spectree/internal/vcs"
	"github.com/da-x/spectree/internal/workspace"
)

// Config is every knob the CLI surface exposes, per the external
// interfaces named for the orchestrator façade.
type Config struct {
	SpecFile      string
	WorkspaceRoot string
	Root          string

	Backend         string // "mock", "null", "docker", "copr"
	TargetOS        string // docker backend
	Platform        string // docker backend, e.g. "linux/arm64"
	CoprProject     string // copr backend
	CoprStateFile   string // copr backend
	ExcludeChroots  []string
	CoprAssumeBuilt string // regular expression, copr backend
	DebugPrepare    bool   // docker backend

	Concurrency int
	KeepFailed  bool
	Logger      *logrus.Logger
}

// Run loads the spec, resolves Root's graph, builds the configured
// backend, and drives the scheduler to completion. The returned
// *scheduler.Report is non-nil whenever the scheduler actually ran,
// even if err is also set (e.g. ctx was cancelled mid-run).
func Run(ctx context.Context, cfg Config) (*scheduler.Report, error) {
	dt, err := os.ReadFile(cfg.SpecFile)
	if err != nil {
		return nil, errors.Wrapf(err, "orchestrator: reading spec file %q", cfg.SpecFile)
	}

	nodes, err := specfile.Load(dt)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: loading spec file")
	}

	graph, err := spectree.NewGraph(nodes, spectree.SourceKey(cfg.Root))
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: resolving dependency graph")
	}

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: preparing workspace")
	}

	be, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	sched := &scheduler.Scheduler{
		Graph:       graph,
		Workspace:   ws,
		Acquirer:    &vcs.Acquirer{SourcesDir: ws.SourcesDir()},
		Stager:      &stage.Stager{Workspace: ws},
		Backend:     be,
		Concurrency: cfg.Concurrency,
		KeepFailed:  cfg.KeepFailed,
		Logger:      cfg.Logger,
	}

	return sched.Run(ctx)
}

func buildBackend(cfg Config) (backend.Backend, error) {
	switch cfg.Backend {
	case "null":
		return null.Backend{}, nil

	case "mock":
		return &chroot.Backend{ChrootConfig: cfg.TargetOS}, nil

	case "docker":
		if cfg.TargetOS == "" {
			return nil, errors.New("orchestrator: --target-os is required for the docker backend")
		}
		return &container.Backend{
			Client:       docker.NewClient(),
			TargetOS:     cfg.TargetOS,
			Platform:     cfg.Platform,
			DebugPrepare: cfg.DebugPrepare,
		}, nil

	case "copr":
		return buildRemoteBackend(cfg)

	default:
		return nil, fmt.Errorf("orchestrator: unknown backend %q (want one of: mock, null, docker, copr)", cfg.Backend)
	}
}

func buildRemoteBackend(cfg Config) (backend.Backend, error) {
	if cfg.CoprProject == "" {
		return nil, errors.New("orchestrator: --copr-project is required for the copr backend")
	}
	if cfg.CoprStateFile == "" {
		return nil, errors.New("orchestrator: --copr-state-file is required for the copr backend")
	}

	store, err := remotestate.Open(cfg.CoprStateFile)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: opening remote state store")
	}

	var assumeBuilt *regexp.Regexp
	if cfg.CoprAssumeBuilt != "" {
		assumeBuilt, err = regexp.Compile(cfg.CoprAssumeBuilt)
		if err != nil {
			return nil, errors.Wrap(err, "orchestrator: compiling --copr-assume-built")
		}
	}

	return &remote.Backend{
		Project:        cfg.CoprProject,
		State:          store,
		Client:         remote.NewCLIClient(""),
		ExcludeChroots: cfg.ExcludeChroots,
		AssumeBuilt:    assumeBuilt,
		PrepareSRPM:    remote.PrepareSRPMViaRPMBuild,
	}, nil
}
