package remote

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
	"github.com/da-x/spectree/internal/remotestate"
)

func mustCompile(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return re
}

type fakeSubmitter struct {
	submitCalls int
	pollCalls   int
	status      remotestate.Status
	jobID       string
}

func (f *fakeSubmitter) Submit(_ context.Context, _, _ string, _ []string) (string, error) {
	f.submitCalls++
	return f.jobID, nil
}

func (f *fakeSubmitter) Poll(_ context.Context, _ string) (remotestate.Status, map[string]string, error) {
	f.pollCalls++
	return f.status, nil, nil
}

func newBackend(t *testing.T, client Submitter) *Backend {
	t.Helper()
	store, err := remotestate.Open(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &Backend{
		Project: "my-project",
		State:   store,
		Client:  client,
		PrepareSRPM: func(_ context.Context, _ *spectree.Node, _, _ string) (string, error) {
			return "/tmp/fake.src.rpm", nil
		},
	}
}

func TestBuildSubmitsOnFirstCall(t *testing.T) {
	client := &fakeSubmitter{jobID: "job-1", status: remotestate.StatusRunning}
	b := newBackend(t, client)
	node := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit}}

	res, err := b.Build(context.Background(), node, "/tmp/src", "pkg-a-deadbeef", "/tmp/deps", "/tmp/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != backend.StatusPending {
		t.Fatalf("expected pending status on first submission, got %+v", res)
	}
	if client.submitCalls != 1 {
		t.Fatalf("expected exactly one submit call, got %d", client.submitCalls)
	}

	rec, ok := b.State.Get("pkg-a-deadbeef")
	if !ok || rec.JobID != "job-1" {
		t.Fatalf("expected submitted job to be recorded, got %+v", rec)
	}
}

func TestBuildResumesAndReportsSuccessOnTerminalStatus(t *testing.T) {
	client := &fakeSubmitter{jobID: "job-1", status: remotestate.StatusSucceeded}
	b := newBackend(t, client)
	node := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit}}

	if err := b.State.Put("pkg-a-deadbeef", remotestate.Record{JobID: "job-1", Status: remotestate.StatusRunning}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := b.Build(context.Background(), node, "/tmp/src", "pkg-a-deadbeef", "/tmp/deps", "/tmp/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != backend.StatusSuccess {
		t.Fatalf("expected success once the hosted job reports succeeded, got %+v", res)
	}
	if client.submitCalls != 0 {
		t.Fatalf("expected no resubmission for an in-progress job, got %d submit calls", client.submitCalls)
	}
}

func TestBuildDoesNotResubmitTerminallyFailedJob(t *testing.T) {
	client := &fakeSubmitter{jobID: "job-1", status: remotestate.StatusRunning}
	b := newBackend(t, client)
	node := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit}}

	if err := b.State.Put("pkg-a-deadbeef", remotestate.Record{JobID: "job-1", Status: remotestate.StatusFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := b.Build(context.Background(), node, "/tmp/src", "pkg-a-deadbeef", "/tmp/deps", "/tmp/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != backend.StatusFailure {
		t.Fatalf("expected terminal failure to be reported without resubmission, got %+v", res)
	}
	if client.submitCalls != 0 || client.pollCalls != 0 {
		t.Fatalf("expected a terminally-failed record to short-circuit without contacting the client, got submit=%d poll=%d", client.submitCalls, client.pollCalls)
	}
}

func TestBuildAssumeBuiltSkipsSubmission(t *testing.T) {
	client := &fakeSubmitter{jobID: "job-1", status: remotestate.StatusRunning}
	b := newBackend(t, client)
	b.AssumeBuilt = mustCompile(t, "^pkg-a$")

	node := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindGit}}

	res, err := b.Build(context.Background(), node, "/tmp/src", "pkg-a-deadbeef", "/tmp/deps", "/tmp/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != backend.StatusSuccess {
		t.Fatalf("expected assume-built match to report success immediately, got %+v", res)
	}
	if client.submitCalls != 0 {
		t.Fatalf("expected assume-built to skip submission entirely, got %d submit calls", client.submitCalls)
	}
}

func TestBuildRejectsSRPMSource(t *testing.T) {
	client := &fakeSubmitter{}
	b := newBackend(t, client)
	node := &spectree.Node{Key: "pkg-a", Source: spectree.Source{Kind: spectree.SourceKindSRPM, SRPMPath: "/tmp/x.src.rpm"}}

	if _, err := b.Build(context.Background(), node, "/tmp/src", "pkg-a-deadbeef", "/tmp/deps", "/tmp/out"); err != backend.ErrSRPMUnsupported {
		t.Fatalf("expected ErrSRPMUnsupported, got %v", err)
	}
}
