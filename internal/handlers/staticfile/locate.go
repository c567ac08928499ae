package staticfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no candidate names a regular file.
var ErrNotFound = errors.New("staticfile: resource not found")

const (
	contentTypeHTML  = "text/html"
	contentTypeXHTML = "application/xhtml+xml"
)

// variantExtensions are tried, in order, after the index files when
// extension fallback is enabled.
var variantExtensions = []string{".html", ".htm", ".xhtml", ".xhtm"}

// CandidateKind says how a candidate was derived from the request path.
type CandidateKind int

const (
	CandidateExact CandidateKind = iota
	CandidateIndex
	CandidateVariant
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateExact:
		return "exact"
	case CandidateIndex:
		return "index"
	case CandidateVariant:
		return "variant"
	}
	return fmt.Sprintf("CandidateKind(%d)", int(k))
}

// Candidate is one filesystem path to try.
type Candidate struct {
	Path string
	Kind CandidateKind
	// ContentType is forced on the response when this candidate matches.
	// Empty for exact matches.
	ContentType string
}

// Resource is the located file.
type Resource struct {
	Candidate
	Size int64
}

// LocatorOptions tune candidate generation.
type LocatorOptions struct {
	IndexFiles        []string
	ExtensionFallback bool
}

// Locator maps normalised paths to regular files below a fixed root.
type Locator struct {
	root string
	opts LocatorOptions
}

// NewLocator returns a Locator for root, which is made absolute.
func NewLocator(root string, opts LocatorOptions) (*Locator, error) {
	if root == "" {
		return nil, errors.New("staticfile: client root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("staticfile: resolving client root %q: %w", root, err)
	}
	if len(opts.IndexFiles) == 0 {
		opts.IndexFiles = []string{"index.html"}
	}
	return &Locator{root: abs, opts: opts}, nil
}

// Root returns the absolute client root.
func (l *Locator) Root() string { return l.root }

// Candidates lists, in priority order, the paths tried for p: the exact
// path, each index file inside it, then (when enabled and p is not the root)
// the path with each variant extension appended.
func (l *Locator) Candidates(p NormalizedPath) []Candidate {
	exact := filepath.Join(append([]string{l.root}, p.Segments...)...)
	out := make([]Candidate, 0, 1+len(l.opts.IndexFiles)+len(variantExtensions))
	out = append(out, Candidate{Path: exact, Kind: CandidateExact})
	for _, name := range l.opts.IndexFiles {
		out = append(out, Candidate{
			Path:        filepath.Join(exact, name),
			Kind:        CandidateIndex,
			ContentType: forcedContentType(name),
		})
	}
	if l.opts.ExtensionFallback && !p.IsRoot() {
		for _, ext := range variantExtensions {
			out = append(out, Candidate{
				Path:        exact + ext,
				Kind:        CandidateVariant,
				ContentType: forcedContentType(ext),
			})
		}
	}
	return out
}

// Locate returns the first candidate that is a regular file. Candidates
// outside the root or failing to stat are skipped. ErrNotFound is returned
// when none match.
func (l *Locator) Locate(p NormalizedPath) (Resource, error) {
	for _, c := range l.Candidates(p) {
		if !l.within(c.Path) {
			continue
		}
		// Any stat failure (missing, ENOTDIR, ENAMETOOLONG, ELOOP, EACCES)
		// means this candidate is not served; read errors are the only 500s.
		fi, err := os.Stat(c.Path)
		if err != nil {
			continue
		}
		if fi.Mode().IsRegular() {
			return Resource{Candidate: c, Size: fi.Size()}, nil
		}
	}
	return Resource{}, ErrNotFound
}

func (l *Locator) within(path string) bool {
	if path == l.root {
		return true
	}
	prefix := l.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func forcedContentType(name string) string {
	if strings.HasPrefix(strings.ToLower(filepath.Ext(name)), ".x") {
		return contentTypeXHTML
	}
	return contentTypeHTML
}
