package http

import "strings"

// Headers is an insertion-ordered, case-insensitive multimap, per
// spec.md §4.1 (Request) and §4.7 (output headers). Duplicate names
// are preserved in the order they were added; Get returns the first
// match, Values returns all of them.
type Headers struct {
	entries []headerEntry
	index   map[string][]int
}

type headerEntry struct {
	key   string // as supplied, original case preserved
	value string
}

func canonKey(k string) string { return strings.ToLower(k) }

// Reset empties h for reuse without releasing backing storage.
func (h *Headers) Reset() {
	h.entries = h.entries[:0]
	for k := range h.index {
		delete(h.index, k)
	}
}

func (h *Headers) ensureIndex() {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
}

// Add appends a new (key, value) pair, keeping any existing entries
// for the same name. This is the behaviour used by operations that
// must preserve repeated headers (e.g. multiple Set-Cookie).
func (h *Headers) Add(key, value string) {
	h.ensureIndex()
	ck := canonKey(key)
	h.entries = append(h.entries, headerEntry{key: key, value: value})
	h.index[ck] = append(h.index[ck], len(h.entries)-1)
}

// Set replaces all existing entries for key with a single new one,
// matching the `update_header` operation (spec.md §4.7): the first
// occurrence's slot is overwritten in place so header order is
// stable, and any further duplicates are dropped.
func (h *Headers) Set(key, value string) {
	h.ensureIndex()
	ck := canonKey(key)
	idxs := h.index[ck]
	if len(idxs) == 0 {
		h.Add(key, value)
		return
	}
	h.entries[idxs[0]] = headerEntry{key: key, value: value}
	if len(idxs) > 1 {
		h.removeIndices(idxs[1:])
	}
}

// CondSet sets key to value only if no entry for key already exists,
// matching `cond_set_header`.
func (h *Headers) CondSet(key, value string) {
	if _, ok := h.Get(key); ok {
		return
	}
	h.Add(key, value)
}

// Append joins value onto the existing entry for key with ", ", or
// adds a new entry if none exists (Via-style accumulation into a
// single header line).
func (h *Headers) Append(key, value string) {
	h.ensureIndex()
	ck := canonKey(key)
	idxs := h.index[ck]
	if len(idxs) == 0 {
		h.Add(key, value)
		return
	}
	e := &h.entries[idxs[0]]
	e.value = e.value + ", " + value
}

// Get returns the first value stored for key.
func (h *Headers) Get(key string) (string, bool) {
	idxs := h.index[canonKey(key)]
	for _, i := range idxs {
		if !h.entries[i].deleted() {
			return h.entries[i].value, true
		}
	}
	return "", false
}

// Values returns every value stored for key, in insertion order.
func (h *Headers) Values(key string) []string {
	idxs := h.index[canonKey(key)]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		if !h.entries[i].deleted() {
			out = append(out, h.entries[i].value)
		}
	}
	return out
}

// Del removes every entry for key.
func (h *Headers) Del(key string) {
	ck := canonKey(key)
	idxs := h.index[ck]
	if len(idxs) == 0 {
		return
	}
	h.removeIndices(idxs)
	delete(h.index, ck)
}

func (h *headerEntry) deleted() bool { return h.key == "" && h.value == "" }

func (h *Headers) removeIndices(idxs []int) {
	for _, i := range idxs {
		h.entries[i] = headerEntry{}
	}
}

// Len reports the number of live entries.
func (h *Headers) Len() int {
	n := 0
	for _, e := range h.entries {
		if !e.deleted() {
			n++
		}
	}
	return n
}

// Each calls fn for every live (key, value) pair in insertion order.
func (h *Headers) Each(fn func(key, value string)) {
	for _, e := range h.entries {
		if !e.deleted() {
			fn(e.key, e.value)
		}
	}
}
