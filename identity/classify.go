// Package identity classifies tracked executables into the priority or
// observation pool and resolves desktop-entry presence. Classification
// is ordered and first-match: it tries multiple representations
// (URI-form and canonical-path forms) of the same input before giving
// up on a manual-apps match.
package identity

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

// userAppDirs are prefixes treated as "user application directories" for
// rule (4) of the classification order.
var userAppDirs = []string{"/usr/bin/", "/usr/local/bin/", "/bin/", "/opt/"}

// Classify assigns Pool to the exe at path using this precedence:
//
//  1. manual-apps list match            -> priority
//  2. desktop-entry presence            -> priority
//  3. excluded-pattern match            -> observation
//  4. user-app-directory membership     -> priority
//  5. otherwise                         -> observation
//
// An app appearing in both the manual list and the excluded-pattern list
// is classified priority — manual apps are checked first and short-
// circuit the rest of the chain.
func Classify(path string, manualApps []string, cfg *config.SystemConfig) model.Pool {
	for _, tried := range candidateForms(path) {
		if containsPath(manualApps, tried) {
			return model.PoolPriority
		}
	}

	if HasDesktopEntry(path) {
		return model.PoolPriority
	}

	for _, pat := range cfg.PoolExcludePatterns {
		if matchesPattern(path, pat) {
			return model.PoolObservation
		}
	}

	for _, dir := range userAppDirs {
		if strings.HasPrefix(path, dir) {
			return model.PoolPriority
		}
	}
	for _, pat := range cfg.PoolPriorityPatterns {
		if matchesPattern(path, pat) {
			return model.PoolPriority
		}
	}

	return model.PoolObservation
}

// candidateForms returns path itself plus its file:// URI form, and, when
// symlink resolution yields a different canonical path, that path and its
// URI form too, so a manual-apps entry written any of these ways matches.
func candidateForms(path string) []string {
	u := &url.URL{Scheme: "file", Path: path}
	forms := []string{path, u.String()}
	if real, err := filepath.EvalSymlinks(path); err == nil && real != path {
		ru := &url.URL{Scheme: "file", Path: real}
		forms = append(forms, real, ru.String())
	}
	return forms
}

func containsPath(list []string, path string) bool {
	for _, p := range list {
		if p == path {
			return true
		}
	}
	return false
}

func matchesPattern(path, pattern string) bool {
	ok, err := filepath.Match(pattern, path)
	if err == nil && ok {
		return true
	}
	// Fall back to a basename match for simple glob patterns like "*esr*".
	ok, err = filepath.Match(pattern, filepath.Base(path))
	return err == nil && ok
}

// esrVariant strips a trailing version-like suffix ("-esr", "-beta", a
// run of digits) so two basenames that differ only by such a suffix can
// be proposed as an auto-discovered Family.
var esrVariant = regexp.MustCompile(`-(esr|beta|dev|nightly|[0-9]+(\.[0-9]+)*)$`)

// ProposeFamily reports whether a and b are ESR-style variants of the
// same application (same directory, basenames equal after stripping a
// trailing version-like suffix from either).
func ProposeFamily(a, b string) bool {
	if filepath.Dir(a) != filepath.Dir(b) {
		return false
	}
	ba, bb := filepath.Base(a), filepath.Base(b)
	if ba == bb {
		return false
	}
	return esrVariant.ReplaceAllString(ba, "") == esrVariant.ReplaceAllString(bb, "")
}
