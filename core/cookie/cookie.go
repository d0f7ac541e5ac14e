// Package cookie implements the C12 cookie and header utilities:
// Set-Cookie synthesis, Cookie-header parsing, and the header-value
// sanitisation spec.md §4.7/§6 requires of every output header.
package cookie

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// MaxAgeForever is the maxage sentinel spec.md §6 calls out: encoding
// it produces an Expires far in the future instead of a Max-Age, the
// same "persist indefinitely" meaning NaviServer's original gives
// math.MaxInt32 seconds.
const MaxAgeForever = math.MaxInt32

// farFuture is the fixed future date the original emits for the
// MaxAgeForever sentinel, matching RFC Section 20.1.1's historical
// "year 2038-proof but still readable" convention.
var farFuture = time.Date(2037, time.December, 31, 23, 59, 59, 0, time.UTC)

// Options controls Set-Cookie synthesis, per spec.md §6.
type Options struct {
	MaxAge     int // seconds; MaxAgeForever or a negative value are sentinels
	Domain     string
	Path       string
	Secure     bool
	Discard    bool
	Scriptable bool // when true, HttpOnly is omitted
}

// Set synthesises a Set-Cookie header value, URL-query-encoding value
// per spec.md §6's cookie format, and returns it for the caller to
// Add onto an output header set (callers must use Add, not Set, since
// multiple Set-Cookie headers must coexist).
func Set(name, value string, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s", name, url.QueryEscape(value))

	switch {
	case opts.MaxAge == MaxAgeForever:
		fmt.Fprintf(&b, "; Expires=%s", farFuture.Format(http1123))
	case opts.MaxAge < 0:
		fmt.Fprintf(&b, "; Expires=%s", time.Unix(0, 0).UTC().Format(http1123))
	case opts.MaxAge > 0:
		fmt.Fprintf(&b, "; Expires=%s", time.Now().Add(time.Duration(opts.MaxAge)*time.Second).UTC().Format(http1123))
		fmt.Fprintf(&b, "; Max-Age=%d", opts.MaxAge)
	}

	if opts.Domain != "" {
		fmt.Fprintf(&b, "; Domain=%s", opts.Domain)
	}
	if opts.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", opts.Path)
	}
	if opts.Secure {
		b.WriteString("; Secure")
	}
	if opts.Discard {
		b.WriteString("; Discard")
	}
	if !opts.Scriptable {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// http1123 is the dash-separated cookie date layout used for Expires
// ("Thu, 01-Jan-1970 00:00:00 GMT").
const http1123 = "Mon, 02-Jan-2006 15:04:05 MST"

// Parse extracts name's value from a Cookie request header (or a
// Set-Cookie value on output headers), per spec.md §6: find the first
// match of "name=", value runs until '"', ';', or end-of-string, and
// is URL-query-decoded.
func Parse(header, name string) (string, bool) {
	rest := header
	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " ;")
		eq := strings.IndexByte(rest, '=')
		if eq == -1 {
			return "", false
		}
		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var raw string
		if len(rest) > 0 && rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end == -1 {
				raw = rest[1:]
				rest = ""
			} else {
				raw = rest[1 : 1+end]
				rest = rest[1+end+1:]
			}
		} else {
			semi := strings.IndexByte(rest, ';')
			if semi == -1 {
				raw = rest
				rest = ""
			} else {
				raw = rest[:semi]
				rest = rest[semi:]
			}
		}

		if key == name {
			v, err := url.QueryUnescape(raw)
			if err != nil {
				return raw, true
			}
			return v, true
		}
	}
	return "", false
}

// SanitizeHeaderValue rewrites any literal '\n' in v to "\n\t" (RFC
// 7230 header folding), preventing HTTP response splitting, per
// spec.md §4.7 and the testable property in spec.md §8 #7. It relies
// on httpguts.ValidHeaderFieldValue to decide whether the value needs
// no rewriting at all (the common case), falling back to an explicit
// rewrite only when the fast check fails.
func SanitizeHeaderValue(v string) string {
	if httpguts.ValidHeaderFieldValue(v) {
		return v
	}
	if !strings.ContainsRune(v, '\n') {
		return v
	}
	return strings.ReplaceAll(v, "\n", "\n\t")
}

// SanitizeHeaderName reports whether k is a syntactically valid
// header field name, for callers that want to reject malformed
// application-supplied header names before they reach the wire.
func SanitizeHeaderName(k string) bool {
	return httpguts.ValidHeaderFieldName(k)
}

// FormatMaxAge renders n as a decimal string, a small helper for
// callers building Cache-Control-style headers alongside a cookie.
func FormatMaxAge(n int) string {
	return strconv.Itoa(n)
}
