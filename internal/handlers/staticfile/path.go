package staticfile

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// SecurityError reports a request path that cannot be mapped safely below
// the client root.
type SecurityError struct {
	Path   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("staticfile: rejected path %q: %s", e.Path, e.Reason)
}

// NormalizedPath is a decoded request path split into segments. It never
// contains "." or ".." and never climbs above the root.
type NormalizedPath struct {
	Segments []string
}

// IsRoot reports whether the path is "/".
func (p NormalizedPath) IsRoot() bool { return len(p.Segments) == 0 }

// String renders the path with a leading slash and no trailing slash.
func (p NormalizedPath) String() string {
	return "/" + strings.Join(p.Segments, "/")
}

// Resolve decodes an escaped URL path and normalises it lexically. Repeated
// slashes collapse, "." is dropped and ".." removes the previous segment.
// A ".." with nothing left to remove, a malformed escape or a NUL byte
// yields a *SecurityError.
func Resolve(escapedPath string) (NormalizedPath, error) {
	decoded, err := url.PathUnescape(escapedPath)
	if err != nil {
		return NormalizedPath{}, &SecurityError{Path: escapedPath, Reason: "malformed percent-encoding"}
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return NormalizedPath{}, &SecurityError{Path: escapedPath, Reason: "NUL byte in path"}
	}

	segments := make([]string, 0, strings.Count(decoded, "/")+1)
	for _, seg := range strings.Split(decoded, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segments) == 0 {
				return NormalizedPath{}, &SecurityError{Path: escapedPath, Reason: "path escapes the client root"}
			}
			segments = segments[:len(segments)-1]
			continue
		}
		if os.PathSeparator != '/' && strings.ContainsRune(seg, os.PathSeparator) {
			return NormalizedPath{}, &SecurityError{Path: escapedPath, Reason: "path separator inside segment"}
		}
		segments = append(segments, seg)
	}
	return NormalizedPath{Segments: segments}, nil
}
