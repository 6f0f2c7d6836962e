// Package executil runs external build tools (rpmbuild, mock,
// createrepo_c, container runtimes, hosted-build CLIs) as subprocesses
// with context-aware cancellation: on ctx cancellation the process is
// asked to terminate and, after a grace period, killed.
package executil

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// GracePeriod is how long a cancelled subprocess is given to exit after
// SIGTERM before it is killed.
var GracePeriod = 10 * time.Second

// Result holds a completed subprocess's captured output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args, capturing stdout and stderr
// separately, and applying cooperative cancellation on ctx.Done.
func Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	cmd.Cancel = func() error {
		logrus.WithField("cmd", name).Debug("executil: sending terminate to subprocess")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = GracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		return res, errors.Wrapf(err, "executil: running %q: %s", name, res.Stderr)
	}

	return res, nil
}
