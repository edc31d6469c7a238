// Package rawpath validates and normalizes the raw-path strings used to
// address files inside an upload's raw tree.
package rawpath

import "strings"

// IsWellFormed reports whether s is a well-formed raw path: empty, or not
// starting with "/", containing no "//", and with no path element equal to
// "." or "..". A trailing "/" denotes a directory reference and is itself
// well-formed.
func IsWellFormed(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, "/") {
		return false
	}
	if strings.Contains(s, "//") {
		return false
	}
	trimmed := strings.TrimSuffix(s, "/")
	for _, el := range strings.Split(trimmed, "/") {
		if el == "." || el == ".." {
			return false
		}
	}
	return true
}

// IsDir reports whether s denotes a directory reference (trailing slash).
func IsDir(s string) bool {
	return strings.HasSuffix(s, "/")
}

// Dir returns the raw directory containing s (s with its last element
// removed), or "" if s has no parent within the raw tree.
func Dir(s string) string {
	s = strings.TrimSuffix(s, "/")
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return ""
	}
	return s[:i]
}

// Base returns the last element of s.
func Base(s string) string {
	s = strings.TrimSuffix(s, "/")
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return s
	}
	return s[i+1:]
}

// Join joins dir and name as raw-path elements.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
