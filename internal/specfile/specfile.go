// Package specfile loads and validates the declarative spec file: a
// YAML mapping from source key to node descriptor. It performs
// "${NAME}" shell-style template expansion in path fields and produces
// a []*spectree.Node ready to hand to spectree.NewGraph.
package specfile

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/shlex"
	"github.com/moby/buildkit/frontend/dockerfile/shell"
	"github.com/pkg/errors"

	"github.com/da-x/spectree"
)

// wireSource mirrors spectree.Source for YAML unmarshalling, since the
// on-disk field name ("source") doubles as a discriminator.
type wireSource struct {
	Source   string `yaml:"source"`
	URL      string `yaml:"url,omitempty"`
	Path     string `yaml:"path,omitempty"`
	SRPMPath string `yaml:"srpm_path,omitempty"`
}

type wireNode struct {
	Source       wireSource `yaml:"source"`
	Dependencies []string   `yaml:"dependencies"`
	BuildParams  []string   `yaml:"build_params"`
}

// File is the top-level on-disk shape: a mapping from source key to
// node descriptor. Unknown keys are rejected by rejectUnknownKeys,
// which Load runs before decoding into File.
type File map[string]wireNode

// knownNodeFields is used to reject unrecognized keys in a node
// descriptor, matching the "unknown top-level keys are rejected"
// requirement.
var knownNodeFields = map[string]struct{}{
	"source": {}, "dependencies": {}, "build_params": {},
}

var knownSourceFields = map[string]struct{}{
	"source": {}, "url": {}, "path": {}, "srpm_path": {},
}

// Load parses spec file contents, expands "${NAME}" templates in path
// fields (NAME is bound to the owning node's source key), and validates
// referential integrity (duplicate keys are impossible from a Go map;
// unknown dependency references and cycles are left to
// spectree.NewGraph, which has the full picture).
//
// Returns the parsed nodes sorted by source key; that order carries no
// meaning — only spectree.NewGraph's topological order is meaningful.
func Load(dt []byte) ([]*spectree.Node, error) {
	if err := rejectUnknownKeys(dt); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(dt, &f); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling spec file")
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lex := shell.NewLex('\\')

	var errs []error
	nodes := make([]*spectree.Node, 0, len(f))
	for _, key := range keys {
		wn := f[key]
		n, err := toNode(lex, spectree.SourceKey(key), wn)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "source %q", key))
			continue
		}
		nodes = append(nodes, n)
	}

	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}

	return nodes, nil
}

func toNode(lex *shell.Lex, key spectree.SourceKey, wn wireNode) (*spectree.Node, error) {
	args := map[string]string{"NAME": string(key)}

	src, err := toSource(lex, args, wn.Source)
	if err != nil {
		return nil, err
	}

	deps := make([]spectree.DependencyEdge, 0, len(wn.Dependencies))
	seen := map[spectree.SourceKey]struct{}{}
	for _, tok := range wn.Dependencies {
		e := spectree.ParseDependencyToken(tok)
		if e.Key == "" {
			return nil, fmt.Errorf("empty dependency reference")
		}
		if _, dup := seen[e.Key]; dup {
			return nil, fmt.Errorf("duplicate dependency reference %q", e.Key)
		}
		seen[e.Key] = struct{}{}
		deps = append(deps, e)
	}

	if err := validateBuildParams(wn.BuildParams); err != nil {
		return nil, err
	}

	return &spectree.Node{
		Key:         key,
		Source:      src,
		Deps:        deps,
		BuildParams: append([]string(nil), wn.BuildParams...),
	}, nil
}

// validateBuildParams requires each build_params entry to be a
// shell-quoted "name value" pair, matching the "--define name value"
// form the local backends forward it as. shlex.Split (rather than a
// plain strings.Fields) is used so a value containing spaces can be
// expressed with quotes, e.g. `_smp_mflags "-j 4"`.
func validateBuildParams(params []string) error {
	var errs []error
	for _, p := range params {
		fields, err := shlex.Split(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("build_params %q: %w", p, err))
			continue
		}
		if len(fields) != 2 {
			errs = append(errs, fmt.Errorf("build_params %q: expected a \"name value\" pair, got %d field(s)", p, len(fields)))
		}
	}
	return stderrors.Join(errs...)
}

func toSource(lex *shell.Lex, args map[string]string, ws wireSource) (spectree.Source, error) {
	var kind spectree.SourceKind
	switch ws.Source {
	case "git", "":
		kind = spectree.SourceKindGit
	case "srpm":
		kind = spectree.SourceKindSRPM
	default:
		return spectree.Source{}, fmt.Errorf("unknown source kind %q", ws.Source)
	}

	path, err := expand(lex, ws.Path, args)
	if err != nil {
		return spectree.Source{}, errors.Wrap(err, "path")
	}

	url, err := expand(lex, ws.URL, args)
	if err != nil {
		return spectree.Source{}, errors.Wrap(err, "url")
	}

	if kind == spectree.SourceKindGit && path == "" && url == "" {
		return spectree.Source{}, fmt.Errorf("git source requires either path or url")
	}
	if kind == spectree.SourceKindGit && path != "" && url != "" {
		return spectree.Source{}, fmt.Errorf("git source must not set both path and url")
	}
	if kind == spectree.SourceKindSRPM && ws.SRPMPath == "" {
		return spectree.Source{}, fmt.Errorf("srpm source requires srpm_path")
	}

	return spectree.Source{
		Kind:     kind,
		URL:      url,
		Path:     path,
		SRPMPath: ws.SRPMPath,
	}, nil
}

func expand(lex *shell.Lex, s string, args map[string]string) (string, error) {
	if s == "" {
		return "", nil
	}
	return lex.ProcessWordWithMap(s, args)
}

// rejectUnknownKeys walks the raw YAML mapping and fails closed on any
// top-level node field, or nested source field, that this loader does
// not recognize — catching typos before they silently no-op.
func rejectUnknownKeys(dt []byte) error {
	var raw map[string]map[string]interface{}
	// Decode loosely first; a spec that doesn't even parse as a mapping
	// of mappings is reported by the real Unmarshal below with a better
	// error, so ignore failures here.
	if err := yaml.Unmarshal(dt, &raw); err != nil {
		return nil
	}

	var errs []error
	for nodeKey, fields := range raw {
		for name := range fields {
			if _, ok := knownNodeFields[name]; !ok {
				errs = append(errs, fmt.Errorf("node %q: unknown field %q", nodeKey, name))
				continue
			}
			if name != "source" {
				continue
			}
			srcFields, ok := fields["source"].(map[string]interface{})
			if !ok {
				continue
			}
			for sf := range srcFields {
				if _, ok := knownSourceFields[sf]; !ok {
					errs = append(errs, fmt.Errorf("node %q: unknown source field %q", nodeKey, sf))
				}
			}
		}
	}

	return stderrors.Join(errs...)
}

// ValidateSourceFields applies the same "reject unknown keys" check
// as rejectUnknownKeys to a plain list of source field names, without
// going through the YAML walk, and reports every unknown name in one
// error.
func ValidateSourceFields(fields []string) error {
	var unknown []string
	for _, f := range fields {
		if _, ok := knownSourceFields[f]; !ok {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown source fields: %s", strings.Join(unknown, ", "))
	}
	return nil
}
