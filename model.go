// Package spectree implements the declarative model for a dependency
// graph of source-RPM build nodes and its resolution: dependency-token
// parsing, graph validation, and topological ordering. Build keys are
// computed by internal/fingerprint.
package spectree

import (
	"fmt"
	"strings"
)

// SourceKey uniquely identifies a node within a spec. It is user-chosen
// and stable across runs.
type SourceKey string

// SourceKind distinguishes the supported source descriptor shapes.
type SourceKind string

const (
	SourceKindGit  SourceKind = "git"
	SourceKindSRPM SourceKind = "srpm"
)

// Source describes where a node's content comes from.
//
// For SourceKindGit, either Path (a local working tree, possibly a
// "${NAME}" template) or URL (a remote to clone into the workspace) must
// be set, but not both.
//
// SRPM is reserved surface syntax: it parses and validates, but the
// acquirer and the chroot, container and remote backends reject it at
// use time with ErrSRPMUnsupported.
type Source struct {
	Kind SourceKind `yaml:"source" json:"source"`

	// URL is a remote git URL to clone.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Path is a local working-tree path. May contain the literal
	// substring "${NAME}", which is replaced with the owning node's
	// source key at load time.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// SRPMPath is the reserved field for SourceKindSRPM. Not yet
	// implemented; see ErrSRPMUnsupported.
	SRPMPath string `yaml:"srpm_path,omitempty" json:"srpm_path,omitempty"`
}

// DependencyEdge is a reference from one node to another. A leading "~"
// on the surface-syntax key marks the edge DirectOnly: the referenced
// node's artifacts are staged only for the node that declares the edge
// directly, never inherited by further descendants.
type DependencyEdge struct {
	Key        SourceKey
	DirectOnly bool
}

// ParseDependencyToken parses one entry of a node's "dependencies" list.
func ParseDependencyToken(tok string) DependencyEdge {
	if strings.HasPrefix(tok, "~") {
		return DependencyEdge{Key: SourceKey(strings.TrimPrefix(tok, "~")), DirectOnly: true}
	}
	return DependencyEdge{Key: SourceKey(tok)}
}

// String renders the edge back to its surface-syntax form.
func (e DependencyEdge) String() string {
	if e.DirectOnly {
		return "~" + string(e.Key)
	}
	return string(e.Key)
}

// Node is one buildable unit of the spec: a source plus its declared
// dependency edges and build parameter tokens.
type Node struct {
	Key         SourceKey        `yaml:"-" json:"-"`
	Source      Source           `yaml:"-" json:"-"`
	Deps        []DependencyEdge `yaml:"-" json:"-"`
	BuildParams []string         `yaml:"-" json:"-"`
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(%s)", n.Key)
}

// DepKeys returns the plain source keys of n's dependency edges, in
// declaration order.
func (n *Node) DepKeys() []SourceKey {
	out := make([]SourceKey, len(n.Deps))
	for i, d := range n.Deps {
		out[i] = d.Key
	}
	return out
}
