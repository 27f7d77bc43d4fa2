// Package pathutil implements platform-aware path normalization and
// traversal classification without ever touching the filesystem.
package pathutil

import (
	"strings"
)

// Normalize slash-normalizes path on all platforms, lowercases the drive
// letter only when a Windows-style drive prefix ("C:\" or "c:/") is
// detected (the rest of the path keeps its case; Equal does the
// case-insensitive comparison), and strips exactly one trailing separator.
// It never consults the filesystem.
func Normalize(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")

	if hasDrivePrefix(p) {
		p = strings.ToLower(p[:1]) + p[1:]
	}

	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}

	return p
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Equal reports whether two paths are the same after Normalize. Paths with
// a Windows drive prefix compare case-insensitively along their whole
// length; all others compare exactly.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	if hasDrivePrefix(na) && hasDrivePrefix(nb) {
		return strings.EqualFold(na, nb)
	}
	return false
}

func hasDrivePrefix(p string) bool {
	return len(p) >= 2 && isAlpha(p[0]) && p[1] == ':'
}

// IsTraversal reports whether rel contains a parent-directory escape or is
// an absolute path, either of which disqualify it from being joined under a
// fixed root.
func IsTraversal(rel string) bool {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") {
		return true
	}
	if len(rel) >= 2 && isAlpha(rel[0]) && rel[1] == ':' {
		return true
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// SafeJoin joins root and rel, rejecting any rel that would escape root.
// It returns ok=false without touching the filesystem when rel is unsafe.
func SafeJoin(root, rel string) (path string, ok bool) {
	if IsTraversal(rel) {
		return "", false
	}
	root = strings.TrimSuffix(Normalize(root), "/")
	rel = strings.TrimPrefix(Normalize(rel), "/")
	if rel == "" {
		return root, true
	}
	return root + "/" + rel, true
}
