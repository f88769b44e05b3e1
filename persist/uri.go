package persist

import (
	"fmt"
	"net/url"
)

// toURI renders an absolute path as a file:// URI, escaping
// separators and non-ASCII bytes the way RFC-3986 requires.
func toURI(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

// fromURI recovers the absolute path from a file:// URI written by
// toURI. Rejects anything that isn't a well-formed file URI, since a
// malformed path field is a syntax error per the load protocol.
func fromURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("uri %q is not a file uri", raw)
	}
	if u.Path == "" {
		return "", fmt.Errorf("uri %q has no path", raw)
	}
	return u.Path, nil
}
