// Package urlspace implements the C4 URL-space router: per-id
// independent routing trees, each a Junction of filter-keyed Channels
// holding a Trie of method/path-segment Branches, per spec.md §4.4.
package urlspace

import (
	"path"
	"sort"
	"strings"
)

// Deleter releases data previously stored at a Node slot, invoked
// when that slot is overwritten or destroyed (unless NoDelete is
// set).
type Deleter func(data any)

type slot struct {
	data    any
	deleter Deleter
	set     bool
}

func (s *slot) clear(nodelete bool) {
	if s.set && !nodelete && s.deleter != nil {
		s.deleter(s.data)
	}
	*s = slot{}
}

// node is a single Branch of the Trie: one word of the sequence, its
// children keyed by the next word, and up to two data slots — one
// inheriting, one not — per spec.md §3.
type node struct {
	children  map[string]*node
	inherit   slot
	noInherit slot
}

func newNode() *node { return &node{children: make(map[string]*node)} }

func (n *node) child(word string, create bool) *node {
	c, ok := n.children[word]
	if !ok && create {
		c = newNode()
		n.children[word] = c
	}
	return c
}

func (n *node) slot(noInherit bool) *slot {
	if noInherit {
		return &n.noInherit
	}
	return &n.inherit
}

// channel holds one filter pattern (the last-path-segment glob this
// channel applies to, or "*" for filters that apply to any segment
// text) and the Trie rooted for it.
type channel struct {
	filter string
	root   *node
}

func newChannel(filter string) *channel {
	return &channel{filter: filter, root: newNode()}
}

// isWildcard reports whether s contains a glob metacharacter,
// matching spec.md §4.4's "wildcards only meaningful in last
// segment" rule.
func isWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// junction is one routing tree: the set of Channels for a single
// urlspace id, kept in two indexes per spec.md §3 — `byName` for
// exact-filter lookup during insertion (Go map; the original's sorted
// binary-search index serves the same purpose here), and `byUse`, a
// slice kept sorted least-specific-first by glob containment, which
// is the order Get/GetFast walk.
type junction struct {
	byName map[string]*channel
	byUse  []*channel
}

func newJunction() *junction {
	return &junction{byName: make(map[string]*channel)}
}

func (j *junction) findOrCreate(filter string) *channel {
	if ch, ok := j.byName[filter]; ok {
		return ch
	}
	ch := newChannel(filter)
	j.byName[filter] = ch
	j.byUse = append(j.byUse, ch)
	j.resort()
	return ch
}

// resort recomputes byUse's least-specific-first order. Channel
// ordering is recomputed on every insertion but insertion is rare
// (spec.md §4.4 invariant), so an O(n log n) stable sort on every
// insert is acceptable.
func (j *junction) resort() {
	sort.SliceStable(j.byUse, func(i, k int) bool {
		return compareSpecificity(j.byUse[i], j.byUse[k]) < 0
	})
}

// compareSpecificity orders a before b when a's filter, used as a
// glob, matches b's filter text but not vice-versa — i.e. a is the
// broader (less specific) pattern. Mutually-matching or incomparable
// filters are left in their existing relative order (stable sort),
// resolving spec.md §9's Open Question in favor of the explicit
// "Lookup walks least-specific-first" sentence in §4.4 over the
// ambiguous "more-restrictive-first" index-construction wording; see
// DESIGN.md.
func compareSpecificity(a, b *channel) int {
	aMatchesB := globMatch(a.filter, b.filter)
	bMatchesA := globMatch(b.filter, a.filter)
	switch {
	case aMatchesB && bMatchesA:
		return 0
	case aMatchesB:
		return -1
	case bMatchesA:
		return 1
	default:
		return 0
	}
}

// splitSegments splits a URL into non-empty path segments, per spec.md
// §4.4's encoding rule.
func splitSegments(url string) []string {
	parts := strings.Split(url, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// insertionWords returns the filter text to use for this URL and the
// trie words to insert (method followed by path segments), per
// spec.md §4.4 algorithm step 1: a wildcard last segment becomes the
// filter and is excluded from the trie words; otherwise the filter is
// "*" and every segment, including the last, is a trie word.
func insertionWords(method, url string) (filter string, words []string) {
	segs := splitSegments(url)
	if n := len(segs); n > 0 && isWildcard(segs[n-1]) {
		return segs[n-1], append([]string{method}, segs[:n-1]...)
	}
	return "*", append([]string{method}, segs...)
}
