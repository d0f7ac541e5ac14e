package urlspace

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/searchktools/naviserver/core/nsync"
)

// Flags controls Set/GetExact/Destroy behaviour, per spec.md §4.4.
type Flags uint8

const (
	// NoInherit selects the non-inheriting slot instead of the
	// default inheriting one.
	NoInherit Flags = 1 << iota
	// NoDelete skips running the prior slot's deleter on overwrite.
	NoDelete
	// Recurse, on Destroy, truncates the matched node's entire
	// subtree instead of clearing a single slot.
	Recurse
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// ErrNoSpace is returned by AllocID once all of the Router's maxSpaces
// ids (see NewRouter) are in use.
var ErrNoSpace = errors.New("urlspace: no free urlspace id")

// DefaultMaxSpaces mirrors spec.md §3's "e.g. 16".
const DefaultMaxSpaces = 16

type cacheKey struct {
	id     int
	method string
	url    string
}

// Router is the per-virtual-server collection of MAX_URLSPACES
// independent routing trees (spec.md §3), plus the GetFast lookup
// cache wired in per SPEC_FULL.md §2 (domain stack).
type Router struct {
	mu        *nsync.RWMutex
	junctions []*junction // index = id; lazily created
	max       int
	allocated int

	cache *lru.Cache[cacheKey, any]
}

// NewRouter creates a Router bounded at maxSpaces ids. cacheSize is
// the capacity of the GetFast result cache; 0 disables caching.
func NewRouter(maxSpaces, cacheSize int) *Router {
	r := &Router{
		mu:        nsync.NewRWMutex("urlspace"),
		junctions: make([]*junction, maxSpaces),
		max:       maxSpaces,
	}
	if cacheSize > 0 {
		c, err := lru.New[cacheKey, any](cacheSize)
		if err == nil {
			r.cache = c
		}
	}
	return r
}

// AllocID returns a fresh urlspace id, bounded by the Router's
// configured maximum.
func (r *Router) AllocID() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocated >= r.max {
		return 0, ErrNoSpace
	}
	id := r.allocated
	r.junctions[id] = newJunction()
	r.allocated++
	return id, nil
}

func (r *Router) junctionAt(id int) (*junction, bool) {
	if id < 0 || id >= len(r.junctions) || r.junctions[id] == nil {
		return nil, false
	}
	return r.junctions[id], true
}

// Set inserts data at (method, url) within urlspace id, per spec.md
// §4.4's insertion algorithm.
func (r *Router) Set(id int, method, url string, data any, flags Flags, deleter Deleter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.junctionAt(id)
	if !ok {
		return fmt.Errorf("urlspace: unknown id %d", id)
	}

	filter, words := insertionWords(method, url)
	ch := j.findOrCreate(filter)

	n := ch.root
	for _, w := range words {
		n = n.child(w, true)
	}

	s := n.slot(flags.has(NoInherit))
	s.clear(flags.has(NoDelete))
	*s = slot{data: data, deleter: deleter, set: true}

	r.invalidateCache()
	return nil
}

// Get performs longest-prefix lookup with inheritance, per spec.md
// §4.4's lookup algorithm: channels are tried least-specific-first,
// and the deepest match across all matching channels wins.
func (r *Router) Get(id int, method, url string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id, method, url, false)
}

// GetFast behaves like Get but requires exact filter equality instead
// of glob evaluation, for hot paths where only exact channels apply.
// Results are served from and populated into an LRU cache wired in
// per SPEC_FULL.md's domain stack, invalidated wholesale by Set or
// Destroy.
func (r *Router) GetFast(id int, method, url string) (any, bool) {
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey{id, method, url}); ok {
			return v, v != nil
		}
	}

	r.mu.RLock()
	data, ok := r.lookup(id, method, url, true)
	r.mu.RUnlock()

	if r.cache != nil {
		r.cache.Add(cacheKey{id, method, url}, data)
	}
	return data, ok
}

func (r *Router) lookup(id int, method, url string, exactFilter bool) (any, bool) {
	j, ok := r.junctionAt(id)
	if !ok {
		return nil, false
	}

	segs := splitSegments(url)
	last := ""
	if len(segs) > 0 {
		last = segs[len(segs)-1]
	}
	seqFull := append([]string{method}, segs...)
	seqDir := seqFull
	if len(segs) > 0 {
		seqDir = append([]string{method}, segs[:len(segs)-1]...)
	}

	var best any
	found := false
	bestDepth := -1

	for _, ch := range j.byUse {
		if !channelMatches(ch, last, exactFilter) {
			continue
		}

		seq := seqFull
		if ch.filter != "*" {
			seq = seqDir
		}

		n := ch.root
		depth := 0
		for ; depth < len(seq); depth++ {
			c, ok := n.children[seq[depth]]
			if !ok {
				break
			}
			n = c
			if n.inherit.set && depth > bestDepth {
				best, bestDepth, found = n.inherit.data, depth, true
			}
		}
		if depth == len(seq) && n.noInherit.set && depth > bestDepth {
			best, bestDepth, found = n.noInherit.data, depth, true
		}
	}

	return best, found
}

func channelMatches(ch *channel, lastSegment string, exact bool) bool {
	if exact {
		return ch.filter == "*" || ch.filter == lastSegment
	}
	return globMatch(ch.filter, lastSegment)
}

// GetExact requires a full-sequence match with no inheritance
// fallback: if flags has NoInherit, only the non-inheriting slot is
// examined, else only the inheriting slot, per spec.md §4.4.
func (r *Router) GetExact(id int, method, url string, flags Flags) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.junctionAt(id)
	if !ok {
		return nil, false
	}

	filter, words := insertionWords(method, url)
	ch, ok := j.byName[filter]
	if !ok {
		return nil, false
	}

	n := ch.root
	for _, w := range words {
		c, ok := n.children[w]
		if !ok {
			return nil, false
		}
		n = c
	}

	s := n.slot(flags.has(NoInherit))
	if !s.set {
		return nil, false
	}
	return s.data, true
}

// Destroy removes a single node's slot (or, with Recurse, the entire
// matched subtree), returning the data that was removed.
func (r *Router) Destroy(id int, method, url string, flags Flags) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.invalidateCache()

	j, ok := r.junctionAt(id)
	if !ok {
		return nil, false
	}

	filter, words := insertionWords(method, url)
	ch, ok := j.byName[filter]
	if !ok {
		return nil, false
	}

	n := ch.root
	for _, w := range words {
		c, ok := n.children[w]
		if !ok {
			return nil, false
		}
		n = c
	}

	if flags.has(Recurse) {
		data := n.inherit.data
		hadData := n.inherit.set || n.noInherit.set || len(n.children) > 0
		destroySubtree(n, flags.has(NoDelete))
		return data, hadData
	}

	s := n.slot(flags.has(NoInherit))
	if !s.set {
		return nil, false
	}
	data := s.data
	s.clear(flags.has(NoDelete))
	return data, true
}

func destroySubtree(n *node, nodelete bool) {
	n.inherit.clear(nodelete)
	n.noInherit.clear(nodelete)
	for k, c := range n.children {
		destroySubtree(c, nodelete)
		delete(n.children, k)
	}
}

// Walk traverses every node across every channel of urlspace id,
// invoking visitor with the reconstructed (method, url) and stored
// data for each populated slot. buf is a caller-supplied builder
// reused across calls, matching `Ns_UrlSpecificWalk`'s buffer-reuse
// behaviour (SPEC_FULL.md §3).
func (r *Router) Walk(id int, visitor func(method, url string, data any), buf *strings.Builder) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.junctionAt(id)
	if !ok {
		return
	}

	for _, ch := range j.byUse {
		walkNode(ch, ch.root, nil, visitor, buf)
	}
}

func walkNode(ch *channel, n *node, words []string, visitor func(string, string, any), buf *strings.Builder) {
	if n.inherit.set {
		emit(ch, words, n.inherit.data, visitor, buf)
	}
	if n.noInherit.set {
		emit(ch, words, n.noInherit.data, visitor, buf)
	}
	for w, c := range n.children {
		walkNode(ch, c, append(words, w), visitor, buf)
	}
}

func emit(ch *channel, words []string, data any, visitor func(string, string, any), buf *strings.Builder) {
	if len(words) == 0 {
		return
	}
	method := words[0]
	buf.Reset()
	for _, seg := range words[1:] {
		buf.WriteByte('/')
		buf.WriteString(seg)
	}
	if ch.filter != "*" {
		buf.WriteByte('/')
		buf.WriteString(ch.filter)
	}
	url := buf.String()
	if url == "" {
		url = "/"
	}
	visitor(method, url, data)
}

func (r *Router) invalidateCache() {
	if r.cache != nil {
		r.cache.Purge()
	}
}
