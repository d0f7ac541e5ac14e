package http

import "testing"

func TestHeaders_CaseInsensitiveGet(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "text/plain")
	if v, ok := h.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("Get case-insensitive = %q, %v", v, ok)
	}
}

func TestHeaders_SetReplacesDuplicates(t *testing.T) {
	var h Headers
	h.Add("X-A", "1")
	h.Add("X-A", "2")
	h.Set("X-A", "3")
	if got := h.Values("X-A"); len(got) != 1 || got[0] != "3" {
		t.Fatalf("Values after Set = %v", got)
	}
}

func TestHeaders_CondSetOnlyWhenAbsent(t *testing.T) {
	var h Headers
	h.CondSet("X-A", "first")
	h.CondSet("X-A", "second")
	if v, _ := h.Get("X-A"); v != "first" {
		t.Fatalf("CondSet overwrote existing value: %q", v)
	}
}

func TestHeaders_AppendJoinsWithComma(t *testing.T) {
	var h Headers
	h.Add("Via", "1.1 proxyA")
	h.Append("Via", "1.1 proxyB")
	if v, _ := h.Get("Via"); v != "1.1 proxyA, 1.1 proxyB" {
		t.Fatalf("Append result = %q", v)
	}
}

func TestHeaders_PreservesInsertionOrder(t *testing.T) {
	var h Headers
	h.Add("Host", "x")
	h.Add("Accept", "*/*")
	h.Add("User-Agent", "test")

	var order []string
	h.Each(func(k, v string) { order = append(order, k) })
	want := []string{"Host", "Accept", "User-Agent"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHeaders_Del(t *testing.T) {
	var h Headers
	h.Add("X-A", "1")
	h.Del("X-A")
	if _, ok := h.Get("X-A"); ok {
		t.Fatal("X-A should be gone after Del")
	}
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}
