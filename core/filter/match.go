package filter

// stringMatch implements Tcl_StringMatch-style glob matching over the
// whole string with no path-separator restriction (unlike
// path.Match): `*` matches any run of characters including `/`, `?`
// matches exactly one character. Filter/trace registrations match
// against a full method or URL string (original_source/nsd/filter.c
// uses Tcl_StringMatch directly on `conn->request->method`/`->url`),
// so core/urlspace's segment-scoped path.Match is not reusable here.
func stringMatch(pattern, s string) bool {
	return matchHere(pattern, s)
}

func matchHere(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive '*'.
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchHere(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		}
	}
	return len(s) == 0
}
