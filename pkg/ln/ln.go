// Package ln parses Logical Names.
//
// A Logical Name (LN) is a slash separated path whose first segment is the
// GUID of the entry the path starts from and whose last segment is a
// basename:
//
//	<rootGUID>/<dir>/<dir>/<basename>
//
// An empty root segment ("/a/b") means the path starts at the global root
// collection. A name without any slash is a bare GUID.
package ln

import "strings"

// Separator separates the segments of a Logical Name.
const Separator = "/"

// Clean strips every trailing separator. A trailing slash marks the name as
// a directory; it is not part of the name itself.
func Clean(name string) string {
	return strings.TrimRight(name, Separator)
}

// Split splits a Logical Name into its root GUID, directory path and
// basename. Split does not strip trailing separators: "a/b/" yields an
// empty basename, which callers use to tell "into directory b" apart from
// "entry named b".
//
//	Split("")          = "", "", ""
//	Split("guid")      = "guid", "", ""
//	Split("/a")        = "", "", "a"
//	Split("guid/d/e/f") = "guid", "d/e", "f"
func Split(name string) (root, dir, base string) {
	parts := strings.Split(name, Separator)
	root = parts[0]
	parts = parts[1:]
	if len(parts) == 0 {
		return root, "", ""
	}
	base = parts[len(parts)-1]
	dir = strings.Join(parts[:len(parts)-1], Separator)
	return root, dir, base
}

// Join is the inverse of Split. Empty directory segments produced by
// repeated separators are not reproduced, so Join(Split(x)) is equivalent
// to x but not always identical.
func Join(root, dir, base string) string {
	dir = strings.Trim(dir, Separator)
	if dir == "" && base == "" {
		return root
	}
	if dir == "" {
		return root + Separator + base
	}
	return root + Separator + dir + Separator + base
}

// Segments returns the path segments below the root, in order, skipping
// the empty and "." segments that do not move the walk.
func Segments(name string) []string {
	_, dir, base := Split(name)
	var segments []string
	if dir != "" {
		for _, s := range strings.Split(dir, Separator) {
			if s == "" || s == "." {
				continue
			}
			segments = append(segments, s)
		}
	}
	if base != "" && base != "." {
		segments = append(segments, base)
	}
	return segments
}

// Root returns the root GUID segment of name.
func Root(name string) string {
	root, _, _ := Split(name)
	return root
}

// Base returns the basename of name.
func Base(name string) string {
	_, _, base := Split(name)
	return base
}
