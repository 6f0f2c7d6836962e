// Package fingerprint computes the content-addressed build key for a
// node: a pure function of the node's source key, content hash, build
// parameter tokens, and the build keys (plus direct-only tag) of its
// direct dependencies, all in declaration order.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/da-x/spectree"
)

// BuildKey is the content-addressed identity of one build attempt:
// "<source-key>-<hex-digest>".
type BuildKey string

// SourceKey returns the source-key portion of a BuildKey.
func (k BuildKey) SourceKey() string {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '-' {
			return string(k[:i])
		}
	}
	return string(k)
}

// DepInput is one dependency edge's contribution to the canonical
// encoding: the dependency's own build key plus whether the edge was
// declared direct-only.
type DepInput struct {
	BuildKey   BuildKey
	DirectOnly bool
}

// Inputs is the exact tuple named in the design: every field that can
// affect a node's identity. Changing any field changes the resulting
// BuildKey; changing nothing leaves it unchanged.
type Inputs struct {
	SourceKey   spectree.SourceKey
	ContentHash string
	BuildParams []string
	Deps        []DepInput
}

// Compute derives the BuildKey for Inputs by hashing a canonical,
// length-prefixed byte encoding of every field. A length-prefixed
// encoding (rather than e.g. joining with a separator) is used so no
// field value, however it's constructed, can be crafted to collide two
// distinct input tuples onto the same byte stream.
func Compute(in Inputs) BuildKey {
	h := sha256.New()

	writeString(h, string(in.SourceKey))
	writeString(h, in.ContentHash)

	writeUint64(h, uint64(len(in.BuildParams)))
	for _, p := range in.BuildParams {
		writeString(h, p)
	}

	writeUint64(h, uint64(len(in.Deps)))
	for _, d := range in.Deps {
		writeString(h, string(d.BuildKey))
		if d.DirectOnly {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	digest := h.Sum(nil)
	return BuildKey(fmt.Sprintf("%s-%s", in.SourceKey, hex.EncodeToString(digest)))
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeUint64(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeUint64(h interface{ Write([]byte) (int, error) }, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	h.Write(b[:])
}
