// Package scheduler implements the parallel DAG executor: admission,
// readiness, deduplication by build key, cancellation, and failure
// propagation, driven under a bounded worker concurrency. The
// scheduler's own state (in-flight map, node statuses, build keys) is
// guarded by one mutex; state transitions are short and never held
// across a blocking subprocess or network call.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
	"github.com/da-x/spectree/internal/fingerprint"
	"github.com/da-x/spectree/internal/log"
	"github.com/da-x/spectree/internal/stage"
	"github.com/da-x/spectree/internal/vcs"
	"github.com/da-x/spectree/internal/workspace"
)

func defaultConcurrency() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// PendingPollInterval is how long the scheduler waits between Build
// calls for a node whose backend reports backend.StatusPending.
var PendingPollInterval = 30 * time.Second

func errPending(reason string) error {
	return fmt.Errorf("remote build still pending: %s", reason)
}

func errFailure(reason string) error {
	return fmt.Errorf("build failed: %s", reason)
}

// Status is a node's position in the scheduler's state machine.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDoneSuccess
	StatusDoneFailure
	StatusSkippedFailedDep
	StatusCancelled
)

// NodeResult is the final outcome recorded for one node.
type NodeResult struct {
	Key      spectree.SourceKey
	BuildKey fingerprint.BuildKey
	Status   Status
	CacheHit bool
	Err      error
}

// Report is the scheduler's final summary for a run.
type Report struct {
	Results map[spectree.SourceKey]NodeResult
	Failed  bool
}

// Scheduler drives spectree.Graph's closure to completion.
type Scheduler struct {
	Graph     *spectree.Graph
	Workspace *workspace.Workspace
	Acquirer  *vcs.Acquirer
	Stager    *stage.Stager
	Backend   backend.Backend

	// Concurrency bounds the number of nodes built at once. Defaults to
	// runtime.NumCPU() if zero (see Run).
	Concurrency int
	// KeepFailed disables staging-directory cleanup on local build
	// failure, for post-mortem inspection.
	KeepFailed bool
	// Logger receives an entry when a node's build starts and one with
	// its outcome; skipped and cancelled nodes are not logged. Defaults
	// to a discarding logger if nil.
	Logger *logrus.Logger

	mu        sync.Mutex
	status    map[spectree.SourceKey]Status
	buildKeys map[spectree.SourceKey]fingerprint.BuildKey
	inFlight  map[fingerprint.BuildKey]*attempt
	done      map[spectree.SourceKey]chan struct{}
}

// attempt is shared across every node that resolves to the same build
// key, so the backend is invoked at most once per build key even if
// multiple distinct source keys collide onto it.
type attempt struct {
	once   sync.Once
	result NodeResult
	done   chan struct{}
}

// Run builds every node in g's closure, respecting dependency order,
// and returns once every node has reached a terminal status or ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	nodes := s.Graph.Ordered()

	s.mu.Lock()
	s.status = make(map[spectree.SourceKey]Status, len(nodes))
	s.buildKeys = make(map[spectree.SourceKey]fingerprint.BuildKey, len(nodes))
	s.inFlight = make(map[fingerprint.BuildKey]*attempt)
	s.done = make(map[spectree.SourceKey]chan struct{}, len(nodes))
	for _, n := range nodes {
		s.status[n.Key] = StatusPending
		s.done[n.Key] = make(chan struct{})
	}
	s.mu.Unlock()

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency()
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runNode(ctx, sem, n)
		}()
	}
	wg.Wait()

	report := &Report{Results: make(map[spectree.SourceKey]NodeResult, len(nodes))}
	s.mu.Lock()
	for key, st := range s.status {
		res := NodeResult{Key: key, BuildKey: s.buildKeys[key], Status: st}
		if at, ok := s.anyAttemptFor(key); ok {
			res.Err = at.result.Err
			res.CacheHit = at.result.CacheHit
		}
		report.Results[key] = res
		if st == StatusDoneFailure || st == StatusSkippedFailedDep || st == StatusCancelled {
			report.Failed = true
		}
	}
	s.mu.Unlock()

	return report, ctx.Err()
}

func (s *Scheduler) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func (s *Scheduler) anyAttemptFor(key spectree.SourceKey) (*attempt, bool) {
	bk, ok := s.buildKeys[key]
	if !ok {
		return nil, false
	}
	at, ok := s.inFlight[bk]
	return at, ok
}

// runNode blocks until every dependency of n has reached a terminal
// status, then executes (or joins an in-flight/dedup'd execution of)
// n's build, recording the outcome and unblocking n's own waiters.
func (s *Scheduler) runNode(ctx context.Context, sem *semaphore.Weighted, n *spectree.Node) {
	defer close(s.done[n.Key])

	for _, dep := range n.Deps {
		select {
		case <-s.done[dep.Key]:
		case <-ctx.Done():
			s.setStatus(n.Key, StatusCancelled)
			return
		}
	}

	if ctx.Err() != nil {
		s.setStatus(n.Key, StatusCancelled)
		return
	}

	if s.anyDepFailed(n) {
		s.setStatus(n.Key, StatusSkippedFailedDep)
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		s.setStatus(n.Key, StatusCancelled)
		return
	}
	defer sem.Release(1)

	s.setStatus(n.Key, StatusRunning)
	log.ForNode(s.logger(), string(n.Key)).Info("build starting")
	result := s.execute(ctx, n)

	s.mu.Lock()
	s.buildKeys[n.Key] = result.BuildKey
	s.mu.Unlock()

	entry := log.ForBuild(s.logger(), string(n.Key), string(result.BuildKey), s.Backend.Name())
	switch result.Status {
	case StatusDoneSuccess:
		if result.CacheHit {
			entry.Info("cache hit")
		} else {
			entry.Info("build succeeded")
		}
	default:
		entry.WithError(result.Err).Warn("build failed")
	}

	s.setStatus(n.Key, result.Status)
}

func (s *Scheduler) anyDepFailed(n *spectree.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dep := range n.Deps {
		switch s.status[dep.Key] {
		case StatusDoneFailure, StatusSkippedFailedDep, StatusCancelled:
			return true
		}
	}
	return false
}

func (s *Scheduler) setStatus(key spectree.SourceKey, st Status) {
	s.mu.Lock()
	s.status[key] = st
	s.mu.Unlock()
}

// execute runs one node through acquire, fingerprint, cache check,
// stage+build, publish-or-discard. The build key for each
// dependency is read from s.buildKeys, which runNode writes before
// that dependency's own done channel closes, so every dependency's key
// is present by the time n runs; the reads still take s.mu because
// other nodes write the map concurrently.
func (s *Scheduler) execute(ctx context.Context, n *spectree.Node) NodeResult {
	acquired, err := s.Acquirer.Acquire(n)
	if err != nil {
		return NodeResult{Key: n.Key, Status: StatusDoneFailure, Err: err}
	}

	deps := make([]fingerprint.DepInput, 0, len(n.Deps))
	s.mu.Lock()
	for _, edge := range n.Deps {
		deps = append(deps, fingerprint.DepInput{
			BuildKey:   s.buildKeys[edge.Key],
			DirectOnly: edge.DirectOnly,
		})
	}
	s.mu.Unlock()

	buildKey := fingerprint.Compute(fingerprint.Inputs{
		SourceKey:   n.Key,
		ContentHash: acquired.ContentHash,
		BuildParams: n.BuildParams,
		Deps:        deps,
	})

	at, primary := s.claim(buildKey)
	if !primary {
		<-at.done
		res := at.result
		res.Key = n.Key
		return res
	}

	at.once.Do(func() {
		res := s.build(ctx, n, acquired.WorkingTreePath, buildKey)
		at.result = res
		close(at.done)
	})

	res := at.result
	res.Key = n.Key
	return res
}

// claim returns the shared attempt for buildKey, creating it if this is
// the first node to reach it this run. The caller is the "primary"
// executor only if it created the attempt; joiners wait on at.done.
func (s *Scheduler) claim(buildKey fingerprint.BuildKey) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.inFlight[buildKey]; ok {
		return at, false
	}

	at := &attempt{done: make(chan struct{})}
	s.inFlight[buildKey] = at
	return at, true
}

// build performs the actual cache-check/stage/backend-invoke/publish
// sequence for a single build key, invoked at most once per key per
// run regardless of how many source keys map to it. sourcePath is n's
// acquired working tree, forwarded to the backend so it can locate the
// materialized source.
func (s *Scheduler) build(ctx context.Context, n *spectree.Node, sourcePath string, buildKey fingerprint.BuildKey) NodeResult {
	bk := string(buildKey)

	if s.Workspace.Published(bk) {
		return NodeResult{BuildKey: buildKey, Status: StatusDoneSuccess, CacheHit: true}
	}

	closure, err := s.Graph.DepsClosure(n.Key)
	if err != nil {
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: err}
	}

	closureBuildKeys := make([]string, 0, len(closure))
	s.mu.Lock()
	for _, dk := range closure {
		closureBuildKeys = append(closureBuildKeys, string(s.buildKeys[dk]))
	}
	s.mu.Unlock()

	staging, err := s.Workspace.Staging(bk)
	if err != nil {
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: err}
	}

	if err := s.Stager.Stage(ctx, staging, closureBuildKeys); err != nil {
		if !s.KeepFailed {
			staging.Discard()
		}
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: err}
	}

	result, err := s.Backend.Build(ctx, n, sourcePath, bk, staging.DepsDir(), staging.ArtifactDir())
	for err == nil && result.Status == backend.StatusPending && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(PendingPollInterval):
			result, err = s.Backend.Build(ctx, n, sourcePath, bk, staging.DepsDir(), staging.ArtifactDir())
		}
	}
	if err != nil {
		if !s.KeepFailed {
			staging.Discard()
		}
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: err}
	}

	switch result.Status {
	case backend.StatusSuccess:
		if err := staging.Publish(); err != nil {
			return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: err}
		}
		return NodeResult{BuildKey: buildKey, Status: StatusDoneSuccess}
	case backend.StatusPending:
		// Hosted backend, ctx cancelled while the job is neither success
		// nor failure yet. The staging directory is retained (not
		// published, not discarded) for a later run to resume against;
		// report failure for this run so dependents don't proceed
		// prematurely, without destroying the evidence a resumed run needs.
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: errPending(result.Reason)}
	default:
		if !s.KeepFailed {
			staging.Discard()
		}
		return NodeResult{BuildKey: buildKey, Status: StatusDoneFailure, Err: errFailure(result.Reason)}
	}
}
