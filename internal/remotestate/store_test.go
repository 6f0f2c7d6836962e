package remotestate

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMissingFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.Get("anything"); ok {
		t.Fatalf("expected a freshly-opened store over a missing file to have no records")
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := Record{JobID: "job-123", Status: StatusRunning, LastSeenAt: time.Now().UTC()}
	if err := store.Put("build-key-1", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := store.Get("build-key-1")
	if !ok {
		t.Fatalf("expected record to be present after Put")
	}
	if got.JobID != rec.JobID || got.Status != rec.Status {
		t.Fatalf("expected round-tripped record to match, got %+v", got)
	}
}

func TestPutPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put("build-key-1", Record{JobID: "job-1", Status: StatusSucceeded}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := reopened.Get("build-key-1")
	if !ok {
		t.Fatalf("expected record to survive a reopen of the store file")
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("expected status %q, got %q", StatusSucceeded, got.Status)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put("build-key-1", Record{JobID: "job-1", Status: StatusFailed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete("build-key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.Get("build-key-1"); ok {
		t.Fatalf("expected record to be gone after Delete")
	}
}

func TestTerminalStatuses(t *testing.T) {
	cases := map[Status]bool{
		StatusSubmitted:          false,
		StatusRunning:            false,
		StatusSucceeded:          true,
		StatusFailed:             true,
		StatusSkippedAssumeBuilt: true,
	}

	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", status, got, want)
		}
	}
}
