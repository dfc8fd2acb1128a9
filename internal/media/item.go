package media

import (
	"fmt"
	"strings"
)

// Item identifies one playable file: a configured source plus the file's
// path relative to that source's root, always with forward slashes.
type Item struct {
	SourceID     string `json:"source_id"`
	RelativePath string `json:"relative_path"`
}

// Key is the canonical map key for an item.
func (it Item) Key() string {
	return it.SourceID + ":" + it.RelativePath
}

// Valid reports whether both identity fields are present.
func (it Item) Valid() bool {
	return it.SourceID != "" && it.RelativePath != ""
}

func (it Item) String() string {
	return it.Key()
}

// InvalidPathError reports a full path that cannot be expressed relative to
// a source root.
type InvalidPathError struct {
	FullPath   string
	SourceRoot string
	Reason     string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid media path %q for root %q: %s", e.FullPath, e.SourceRoot, e.Reason)
}

// RelativePath turns an absolute media path into the source-relative
// identifier used to address jobs. Both backslash and slash separators are
// accepted; the result always uses "/" and never starts with a separator.
func RelativePath(fullPath, sourceRoot string) (string, error) {
	if fullPath == "" || sourceRoot == "" {
		return "", &InvalidPathError{FullPath: fullPath, SourceRoot: sourceRoot, Reason: "empty path"}
	}

	full := toSlash(fullPath)
	root := strings.TrimRight(toSlash(sourceRoot), "/")

	rest := full
	if root != "" {
		if !strings.HasPrefix(full, root) {
			return "", &InvalidPathError{FullPath: fullPath, SourceRoot: sourceRoot, Reason: "not under source root"}
		}
		rest = full[len(root):]
		// "/srv/ab/x.mp4" shares a string prefix with "/srv/a" but is not under it.
		if rest != "" && rest[0] != '/' {
			return "", &InvalidPathError{FullPath: fullPath, SourceRoot: sourceRoot, Reason: "not under source root"}
		}
	}

	rest = strings.TrimLeft(rest, "/")
	if rest == "" {
		return "", &InvalidPathError{FullPath: fullPath, SourceRoot: sourceRoot, Reason: "path is the source root itself"}
	}
	return rest, nil
}

// SoftRelativePath is RelativePath with the error collapsed to "". Callers
// that must keep rendering use it and treat "" as "no identifier".
func SoftRelativePath(fullPath, sourceRoot string) string {
	rel, err := RelativePath(fullPath, sourceRoot)
	if err != nil {
		return ""
	}
	return rel
}

// CleanRelative normalizes a relative path supplied directly by a client and
// rejects anything that would escape the source root.
func CleanRelative(rel string) (string, error) {
	rel = strings.TrimLeft(toSlash(rel), "/")
	if rel == "" {
		return "", &InvalidPathError{FullPath: rel, Reason: "empty path"}
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", &InvalidPathError{FullPath: rel, Reason: "path escapes source root"}
		}
	}
	return rel, nil
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
