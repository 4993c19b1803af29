package engine

import (
	"path"
	"strings"
)

// NormalizeRelPath canonicalizes a relative include path for display and
// comparison: whitespace trimmed, backslashes converted to forward
// slashes, lowercased, redundant "." and ".." segments collapsed. A
// leading "./" is preserved when the input carried one.
func NormalizeRelPath(rel string) string {
	rel = strings.TrimSpace(rel)
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.ToLower(rel)

	dotPrefix := strings.HasPrefix(rel, "./")
	cleaned := path.Clean(rel)
	if cleaned == "." {
		cleaned = ""
	}
	if dotPrefix && cleaned != "" {
		return "./" + cleaned
	}
	return cleaned
}

// PathKey returns the registry identity for a relative path. Two
// spellings of the same file ("Root\\Include-3.MD", "./root/include-3.md")
// always produce the same key; the optional "./" prefix is not part of
// identity.
func PathKey(rel string) string {
	return strings.TrimPrefix(NormalizeRelPath(rel), "./")
}
