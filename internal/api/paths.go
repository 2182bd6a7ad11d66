package api

import "strings"

// NormalizePath returns p rooted at exactly one "/api/" segment, however
// many "api/" prefixes (and slashes) the caller wrote. The query string is
// left untouched.
func NormalizePath(p string) string {
	path, query, hasQuery := strings.Cut(p, "?")

	rest := strings.TrimLeft(path, "/")
	for strings.HasPrefix(rest, "api/") {
		rest = strings.TrimLeft(rest[len("api/"):], "/")
	}
	if rest == "api" {
		rest = ""
	}

	out := "/api/" + rest
	if hasQuery {
		out += "?" + query
	}
	return out
}

// trimBaseURL strips trailing slashes and a trailing "/api" so that joining
// with a normalised path never yields "/api/api/".
func trimBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	for strings.HasSuffix(base, "/api") {
		base = strings.TrimRight(strings.TrimSuffix(base, "/api"), "/")
	}
	return base
}
