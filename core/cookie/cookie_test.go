package cookie

import (
	"strings"
	"testing"
)

func TestSet_BasicFields(t *testing.T) {
	v := Set("session", "abc 123", Options{
		Domain: "example.com",
		Path:   "/app",
		Secure: true,
	})
	if !strings.HasPrefix(v, "session=abc+123") {
		t.Fatalf("Set = %q, want value URL-query-encoded at the start", v)
	}
	for _, want := range []string{"Domain=example.com", "Path=/app", "Secure", "HttpOnly"} {
		if !strings.Contains(v, want) {
			t.Fatalf("Set = %q, missing %q", v, want)
		}
	}
}

func TestSet_ScriptableOmitsHttpOnly(t *testing.T) {
	v := Set("s", "v", Options{Scriptable: true})
	if strings.Contains(v, "HttpOnly") {
		t.Fatalf("Set = %q, want no HttpOnly when Scriptable", v)
	}
}

func TestSet_MaxAgeForeverUsesFarFutureExpires(t *testing.T) {
	v := Set("s", "v", Options{MaxAge: MaxAgeForever})
	if !strings.Contains(v, "Expires=Thu, 31-Dec-2037") {
		t.Fatalf("Set = %q, want far-future Expires", v)
	}
	if strings.Contains(v, "Max-Age") {
		t.Fatalf("Set = %q, MaxAgeForever should not emit Max-Age", v)
	}
}

func TestSet_NegativeMaxAgeExpiresImmediately(t *testing.T) {
	v := Set("s", "v", Options{MaxAge: -1})
	if !strings.Contains(v, "Expires=Thu, 01-Jan-1970") {
		t.Fatalf("Set = %q, want epoch Expires for a deletion cookie", v)
	}
}

func TestParse_FindsNamedValue(t *testing.T) {
	header := `a=1; session="hello world"; b=2`
	v, ok := Parse(header, "session")
	if !ok || v != "hello world" {
		t.Fatalf("Parse = %q, %v, want %q, true", v, ok, "hello world")
	}
}

func TestParse_URLDecodesValue(t *testing.T) {
	v, ok := Parse("name=abc+123", "name")
	if !ok || v != "abc 123" {
		t.Fatalf("Parse = %q, %v, want %q, true", v, ok, "abc 123")
	}
}

func TestParse_MissingNameNotFound(t *testing.T) {
	_, ok := Parse("a=1; b=2", "c")
	if ok {
		t.Fatal("Parse found a nonexistent cookie name")
	}
}

func TestSanitizeHeaderValue_RewritesNewlines(t *testing.T) {
	got := SanitizeHeaderValue("line1\nSet-Cookie: evil=1")
	want := "line1\n\tSet-Cookie: evil=1"
	if got != want {
		t.Fatalf("SanitizeHeaderValue = %q, want %q", got, want)
	}
}

func TestSanitizeHeaderValue_LeavesCleanValueUnchanged(t *testing.T) {
	if got := SanitizeHeaderValue("text/plain"); got != "text/plain" {
		t.Fatalf("SanitizeHeaderValue = %q, want unchanged", got)
	}
}
