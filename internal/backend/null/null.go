// Package null implements a no-op backend used to exercise the
// resolver, fingerprinter, and scheduler under test.
package null

import (
	"context"

	"github.com/da-x/spectree"
	"github.com/da-x/spectree/internal/backend"
)

// Backend always succeeds without writing anything into outputPath.
type Backend struct{}

var _ backend.Backend = Backend{}

func (Backend) Name() string { return "null" }

func (Backend) Build(_ context.Context, _ *spectree.Node, _, _, _, _ string) (backend.Result, error) {
	return backend.Result{Status: backend.StatusSuccess}, nil
}
