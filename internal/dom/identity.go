package dom

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Hash is the continuity fingerprint of an element: three FNV-64a segments
// over the ancestor tag path, the attribute set, and the structural path.
// It answers "have I seen this element before" across re-captures; it is a
// heuristic, never a uniqueness guarantee.
type Hash string

// Identity computes the fingerprint of an element. It is a pure function:
// an element with unchanged attributes and ancestor chain always hashes to
// the same value, so false negatives do not occur for unchanged elements.
// Collisions between distinct elements are tolerated.
func Identity(el *ElementNode) Hash {
	tagPath := strings.Join(el.AncestorTags(), "/")
	return Hash(fmt.Sprintf("%x-%x-%x",
		fnv64(tagPath),
		fnv64(el.sortedAttrs()),
		fnv64(el.XPath),
	))
}

func fnv64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
