// Package remote implements the hosted build backend: it submits a
// locally-prepared source RPM to a hosted build service under a named
// project, then polls for status across scheduler invocations using
// the durable remotestate.Store as the source of truth.
package remote

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
	"github.com/da-x/spectree/internal/executil"
	"github.com/da-x/spectree/internal/remotestate"
)

// Submitter abstracts the hosted-build CLI so tests can stub it out.
type Submitter interface {
	// Submit uploads the source RPM at srpmPath to project and returns
	// a job identifier.
	Submit(ctx context.Context, project, srpmPath string, excludeChroots []string) (jobID string, err error)
	// Poll returns the current status of jobID.
	Poll(ctx context.Context, jobID string) (remotestate.Status, map[string]string, error)
}

// Backend is the hosted ("copr"-shaped) build backend.
type Backend struct {
	Project        string
	State          *remotestate.Store
	Client         Submitter
	ExcludeChroots []string
	// AssumeBuilt matches source keys whose builds are treated as
	// already present on the hosted side; no local or remote build is
	// performed for a match.
	AssumeBuilt *regexp.Regexp
	// PrepareSRPM builds a source RPM from node's working tree,
	// returning its path. This is a local, prepare-only step.
	PrepareSRPM func(ctx context.Context, node *spectree.Node, sourcePath, stagedDepsPath string) (string, error)
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "remote" }

func (b *Backend) Build(ctx context.Context, node *spectree.Node, sourcePath, buildKey, stagedDepsPath, _ string) (backend.Result, error) {
	if node.Source.Kind == spectree.SourceKindSRPM {
		return backend.Result{}, backend.ErrSRPMUnsupported
	}

	if b.AssumeBuilt != nil && b.AssumeBuilt.MatchString(string(node.Key)) {
		rec := remotestate.Record{Status: remotestate.StatusSkippedAssumeBuilt, LastSeenAt: now()}
		if err := b.State.Put(buildKey, rec); err != nil {
			return backend.Result{}, err
		}
		return backend.Result{Status: backend.StatusSuccess}, nil
	}

	rec, exists := b.State.Get(buildKey)
	if !exists {
		return b.submit(ctx, node, sourcePath, stagedDepsPath, buildKey)
	}

	return b.resume(ctx, buildKey, rec)
}

func (b *Backend) submit(ctx context.Context, node *spectree.Node, sourcePath, stagedDepsPath, buildKey string) (backend.Result, error) {
	srpmPath, err := b.PrepareSRPM(ctx, node, sourcePath, stagedDepsPath)
	if err != nil {
		return backend.Result{}, errors.Wrap(err, "remote: preparing source rpm")
	}

	jobID, err := b.Client.Submit(ctx, b.Project, srpmPath, b.ExcludeChroots)
	if err != nil {
		return backend.Result{}, errors.Wrap(err, "remote: submitting build")
	}

	rec := remotestate.Record{JobID: jobID, Status: remotestate.StatusSubmitted, LastSeenAt: now()}
	if err := b.State.Put(buildKey, rec); err != nil {
		return backend.Result{}, err
	}

	return backend.Result{Status: backend.StatusPending}, nil
}

// resume polls an in-flight or previously-failed job. A terminally
// failed record is never resubmitted automatically — the user must
// remove it from the state store first, to avoid runaway resubmission.
func (b *Backend) resume(ctx context.Context, buildKey string, rec remotestate.Record) (backend.Result, error) {
	if rec.Status.Terminal() {
		return terminalResult(rec), nil
	}

	bo := backoff.NewExponentialBackOff()
	status, chrootStatus, err := pollWithBackoff(ctx, bo, b.Client, rec.JobID)
	if err != nil {
		return backend.Result{}, errors.Wrap(err, "remote: polling build status")
	}

	rec.Status = status
	rec.ChrootStatus = chrootStatus
	rec.LastSeenAt = now()
	if err := b.State.Put(buildKey, rec); err != nil {
		return backend.Result{}, err
	}

	if status.Terminal() {
		return terminalResult(rec), nil
	}

	return backend.Result{Status: backend.StatusPending}, nil
}

func terminalResult(rec remotestate.Record) backend.Result {
	if rec.Status == remotestate.StatusFailed {
		return backend.Result{Status: backend.StatusFailure, Reason: fmt.Sprintf("hosted job %s failed", rec.JobID)}
	}
	return backend.Result{Status: backend.StatusSuccess}
}

// pollWithBackoff polls until one poll succeeds, retrying transient
// polling errors on bo's schedule; a successful poll (even one that
// reports a non-terminal status) returns immediately rather than
// looping until terminal, since the scheduler itself drives repeated
// Build calls across its own poll cadence.
func pollWithBackoff(ctx context.Context, bo backoff.BackOff, client Submitter, jobID string) (remotestate.Status, map[string]string, error) {
	var status remotestate.Status
	var chroots map[string]string

	op := func() error {
		s, c, err := client.Poll(ctx, jobID)
		if err != nil {
			return err
		}
		status, chroots = s, c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", nil, err
	}
	return status, chroots, nil
}

func now() time.Time { return time.Now() }
