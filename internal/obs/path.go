package obs

import "strings"

// CanonicalPath collapses resource identifiers out of request paths so metric
// label cardinality stays bounded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	rewrite := func(prefix []string, suffix []string) (string, bool) {
		if len(segments) != len(prefix)+1+len(suffix) {
			return "", false
		}
		for i, p := range prefix {
			if segments[i] != p {
				return "", false
			}
		}
		for i, s := range suffix {
			if segments[len(prefix)+1+i] != s {
				return "", false
			}
		}
		out := append([]string{}, prefix...)
		out = append(out, ":id")
		out = append(out, suffix...)
		return "/" + strings.Join(out, "/"), true
	}

	patterns := []struct {
		prefix []string
		suffix []string
	}{
		{[]string{"v1", "tenants"}, nil},
		{[]string{"v1", "tenants"}, []string{"modules"}},
		{[]string{"v1", "contacts"}, nil},
		{[]string{"v1", "compliance", "templates"}, nil},
		{[]string{"v1", "compliance", "tracking"}, nil},
		{[]string{"v1", "compliance", "tracking"}, []string{"status"}},
	}
	for _, p := range patterns {
		if out, ok := rewrite(p.prefix, p.suffix); ok {
			return out
		}
	}
	return path
}
