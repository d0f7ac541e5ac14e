package urlspace

import (
	"strings"
	"testing"
)

func mustID(t *testing.T, r *Router) int {
	t.Helper()
	id, err := r.AllocID()
	if err != nil {
		t.Fatalf("AllocID: %v", err)
	}
	return id
}

func TestRouter_ExactRegistrationAndLookup(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/hello", "hi-handler", 0, nil)

	data, ok := r.Get(id, "GET", "/hello")
	if !ok || data != "hi-handler" {
		t.Fatalf("Get = %v, %v", data, ok)
	}
}

func TestRouter_WildcardFilterMatchesSuffix(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/assets/*.html", "html-handler", 0, nil)

	data, ok := r.Get(id, "GET", "/assets/index.html")
	if !ok || data != "html-handler" {
		t.Fatalf("Get = %v, %v", data, ok)
	}

	if _, ok := r.Get(id, "GET", "/assets/index.js"); ok {
		t.Fatal("non-matching extension should not hit the *.html channel")
	}
}

func TestRouter_InheritanceDeepestWins(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/dir", "dir-handler", 0, nil)
	r.Set(id, "GET", "/dir/sub/page", "page-handler", 0, nil)

	if data, ok := r.Get(id, "GET", "/dir/sub/other"); !ok || data != "dir-handler" {
		t.Fatalf("shallow inherited match = %v, %v", data, ok)
	}
	if data, ok := r.Get(id, "GET", "/dir/sub/page"); !ok || data != "page-handler" {
		t.Fatalf("deepest match = %v, %v", data, ok)
	}
}

func TestRouter_GetExactRequiresFullSequence(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/dir", "dir-handler", 0, nil)

	if _, ok := r.GetExact(id, "GET", "/dir/sub", 0); ok {
		t.Fatal("GetExact must not match a deeper, non-registered path")
	}
	if data, ok := r.GetExact(id, "GET", "/dir", 0); !ok || data != "dir-handler" {
		t.Fatalf("GetExact = %v, %v", data, ok)
	}
}

func TestRouter_NoInheritSlotIsIndependent(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/dir", "inherit-data", 0, nil)
	r.Set(id, "GET", "/dir", "noinherit-data", NoInherit, nil)

	if data, ok := r.GetExact(id, "GET", "/dir", 0); !ok || data != "inherit-data" {
		t.Fatalf("inheriting slot = %v, %v", data, ok)
	}
	if data, ok := r.GetExact(id, "GET", "/dir", NoInherit); !ok || data != "noinherit-data" {
		t.Fatalf("non-inheriting slot = %v, %v", data, ok)
	}
}

func TestRouter_DestroyRunsDeleter(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	var deleted any
	r.Set(id, "GET", "/dir", "data", 0, func(d any) { deleted = d })

	data, ok := r.Destroy(id, "GET", "/dir", 0)
	if !ok || data != "data" {
		t.Fatalf("Destroy = %v, %v", data, ok)
	}
	if deleted != "data" {
		t.Fatalf("deleter not invoked, got %v", deleted)
	}
	if _, ok := r.Get(id, "GET", "/dir"); ok {
		t.Fatal("destroyed node should no longer match")
	}
}

func TestRouter_DestroyRecurseTruncatesSubtree(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/dir/a", "a", 0, nil)
	r.Set(id, "GET", "/dir/b", "b", 0, nil)

	if _, ok := r.Destroy(id, "GET", "/dir", Recurse); !ok {
		t.Fatal("Destroy with Recurse should report the subtree was removed")
	}
	if _, ok := r.Get(id, "GET", "/dir/a"); ok {
		t.Fatal("recursive destroy should remove descendants")
	}
	if _, ok := r.Get(id, "GET", "/dir/b"); ok {
		t.Fatal("recursive destroy should remove descendants")
	}
}

func TestRouter_GetFastExactEqualityOnly(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 8)
	id := mustID(t, r)

	r.Set(id, "GET", "/assets/*.html", "html-handler", 0, nil)
	r.Set(id, "GET", "/exact", "exact-handler", 0, nil)

	if _, ok := r.GetFast(id, "GET", "/assets/index.html"); ok {
		t.Fatal("GetFast must not evaluate glob channels")
	}
	if data, ok := r.GetFast(id, "GET", "/exact"); !ok || data != "exact-handler" {
		t.Fatalf("GetFast exact = %v, %v", data, ok)
	}
}

func TestRouter_GetFastCacheInvalidatedOnSet(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 8)
	id := mustID(t, r)

	r.Set(id, "GET", "/exact", "v1", 0, nil)
	if data, _ := r.GetFast(id, "GET", "/exact"); data != "v1" {
		t.Fatalf("GetFast first call = %v", data)
	}

	r.Set(id, "GET", "/exact", "v2", 0, nil)
	if data, ok := r.GetFast(id, "GET", "/exact"); !ok || data != "v2" {
		t.Fatalf("GetFast after overwrite = %v, %v, want v2", data, ok)
	}
}

func TestRouter_AllocIDExhaustion(t *testing.T) {
	r := NewRouter(2, 0)
	if _, err := r.AllocID(); err != nil {
		t.Fatalf("first AllocID: %v", err)
	}
	if _, err := r.AllocID(); err != nil {
		t.Fatalf("second AllocID: %v", err)
	}
	if _, err := r.AllocID(); err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

func TestRouter_Walk(t *testing.T) {
	r := NewRouter(DefaultMaxSpaces, 0)
	id := mustID(t, r)

	r.Set(id, "GET", "/a", "a", 0, nil)
	r.Set(id, "GET", "/b", "b", 0, nil)

	var seen []string
	var buf strings.Builder
	r.Walk(id, func(method, url string, data any) {
		seen = append(seen, method+" "+url+" "+data.(string))
	}, &buf)

	if len(seen) != 2 {
		t.Fatalf("Walk visited %d nodes, want 2: %v", len(seen), seen)
	}
}
