package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesLayout(t *testing.T) {
	root := t.TempDir()

	ws, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, dir := range []string{ws.SourcesDir(), ws.BuildsDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Fatalf("expected %q to exist as a directory", dir)
		}
	}
}

func TestPublishedFalseBeforePublish(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ws.Published("some-build-key") {
		t.Fatalf("expected Published to be false for a build key never staged")
	}
}

func TestStagingPublishMakesPublishedTrue(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staging, err := ws.Staging("bk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	marker := filepath.Join(staging.ArtifactDir(), "output.rpm")
	if err := os.WriteFile(marker, []byte("data"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := staging.Publish(); err != nil {
		t.Fatalf("unexpected error publishing: %v", err)
	}

	if !ws.Published("bk-1") {
		t.Fatalf("expected build key to be published after Publish")
	}

	if _, err := os.Stat(filepath.Join(ws.ArtifactDir("bk-1"), "output.rpm")); err != nil {
		t.Fatalf("expected published artifact to be present: %v", err)
	}
}

func TestStagingDiscardRemovesDirectory(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staging, err := ws.Staging("bk-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := staging.Path()
	if err := staging.Discard(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected staging directory to be removed after Discard")
	}
	if ws.Published("bk-2") {
		t.Fatalf("expected Published to remain false after Discard")
	}
}
