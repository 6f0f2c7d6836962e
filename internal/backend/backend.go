// Package backend defines the abstract build operation that decouples
// the scheduler from the concrete build mechanism. Four variants
// satisfy this protocol: null, local-chroot, container, and
// remote-hosted.
package backend

import (
	"context"
	"errors"

	"github.com/da-x/spectree"
)

// Status is the outcome of one Build call.
type Status int

const (
	// StatusSuccess means the backend populated OutputPath (local
	// backends) or otherwise reached a terminal success state (remote
	// backend).
	StatusSuccess Status = iota
	// StatusFailure means the build failed; Result.Reason explains why.
	StatusFailure
	// StatusPending means the backend has not reached a terminal state
	// yet (remote backend only: submitted/running). The scheduler calls
	// Build again for the same node after scheduler.PendingPollInterval.
	StatusPending
)

// Result is what a Backend reports for one Build call.
type Result struct {
	Status Status
	// Reason is a human-readable explanation, set when Status is
	// StatusFailure.
	Reason string
}

// ErrSRPMUnsupported is returned by the chroot, container and remote
// backends for a node whose source kind is the reserved SRPM kind. The
// null backend does not inspect the node and succeeds for it too.
var ErrSRPMUnsupported = errors.New("backend: prebuilt SRPM sources are not yet supported")

// Backend builds one node given its materialized source tree and
// staged dependency repo, writing artifacts into outputPath (local
// backends) or materializing them remotely (the hosted backend, which
// does not populate outputPath at all — dependents of a node built
// there are expected to also use the remote backend).
type Backend interface {
	// Build runs one build attempt for node, identified by buildKey (the
	// scheduler's content-addressed identity for this attempt, used by
	// the remote backend to key its state store). sourcePath is the
	// node's acquired working tree (vcs.Result.WorkingTreePath).
	// stagedDepsPath is a local package repository (with repodata/)
	// containing node's deps closure; outputPath is where local
	// backends should write artifacts.
	Build(ctx context.Context, node *spectree.Node, sourcePath, buildKey, stagedDepsPath, outputPath string) (Result, error)

	// Name identifies the backend for logging and CLI selection.
	Name() string
}
