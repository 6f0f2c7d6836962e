// Command spectree builds a source-RPM package and its declared
// dependency closure, resolving the set through one of several
// pluggable build backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"

	"github.com/da-x/spectree/internal/log"
	"github.com/da-x/spectree/internal/orchestrator"
	"github.com/da-x/spectree/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmdBuild(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

// repeatableFlag implements flag.Value for a flag given more than once,
// e.g. "--exclude-chroot fedora-40-x86_64 --exclude-chroot epel-9-x86_64".
type repeatableFlag []string

func (r *repeatableFlag) String() string { return fmt.Sprint([]string(*r)) }

func (r *repeatableFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func cmdBuild(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("spectree", flag.ExitOnError)

	backendFl := flags.String("backend", "null", "build backend: mock, null, docker, copr")
	targetOSFl := flags.String("target-os", "", "target OS image (docker backend)")
	platformFl := flags.String("platform", "", "OCI platform, e.g. linux/arm64 (docker backend)")
	coprProjectFl := flags.String("copr-project", "", "hosted project name (copr backend, required)")
	coprStateFileFl := flags.String("copr-state-file", "", "path to the remote build state file (copr backend, required)")
	coprAssumeBuiltFl := flags.String("copr-assume-built", "", "regular expression of source keys to treat as already built (copr backend)")
	debugPrepareFl := flags.Bool("debug-prepare", false, "run only the source-preparation phase and retain the container for inspection (docker backend)")
	keepFailedFl := flags.Bool("keep-failed", false, "retain staging directories of failed local builds for inspection")
	concurrencyFl := flags.Int("concurrency", 0, "maximum number of builds running at once (0: number of CPUs)")
	logLevelFl := flags.String("log-level", "info", "log level: trace, debug, info, warn, error")

	var excludeChroots repeatableFlag
	flags.Var(&excludeChroots, "exclude-chroot", "chroot to exclude from a hosted build (copr backend, repeatable)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() != 3 {
		flags.SetOutput(os.Stderr)
		flags.Usage()
		return errors.Errorf("usage: spectree [flags] <spec-file> <workspace-dir> <root-source-key>")
	}

	cfg := orchestrator.Config{
		SpecFile:        flags.Arg(0),
		WorkspaceRoot:   flags.Arg(1),
		Root:            flags.Arg(2),
		Backend:         *backendFl,
		TargetOS:        *targetOSFl,
		Platform:        *platformFl,
		CoprProject:     *coprProjectFl,
		CoprStateFile:   *coprStateFileFl,
		ExcludeChroots:  excludeChroots,
		CoprAssumeBuilt: *coprAssumeBuiltFl,
		DebugPrepare:    *debugPrepareFl,
		Concurrency:     *concurrencyFl,
		KeepFailed:      *keepFailedFl,
		Logger:          log.New(*logLevelFl),
	}

	report, err := orchestrator.Run(ctx, cfg)
	if err != nil {
		return err
	}

	return summarize(report)
}

func summarize(report *scheduler.Report) error {
	if report.Failed {
		for key, res := range report.Results {
			switch res.Status {
			case scheduler.StatusDoneFailure, scheduler.StatusSkippedFailedDep, scheduler.StatusCancelled:
				fmt.Fprintf(os.Stderr, "%s: %v\n", key, res.Err)
			}
		}
		return errors.New("spectree: one or more builds did not succeed")
	}
	return nil
}
