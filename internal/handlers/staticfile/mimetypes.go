package staticfile

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const defaultOctetStreamMimeType = "application/octet-stream"

// builtinMimeTypes covers common web assets that mime.TypeByExtension may
// not know about on minimal systems.
var builtinMimeTypes = map[string]string{
	".avif":        "image/avif",
	".css":         "text/css; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".html":        "text/html; charset=utf-8",
	".ico":         "image/vnd.microsoft.icon",
	".js":          "text/javascript; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".mjs":         "text/javascript; charset=utf-8",
	".svg":         "image/svg+xml",
	".txt":         "text/plain; charset=utf-8",
	".wasm":        "application/wasm",
	".webmanifest": "application/manifest+json",
	".webp":        "image/webp",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".xhtml":       "application/xhtml+xml",
	".xml":         "application/xml",
}

// MimeTypeResolver maps file extensions to Content-Type values. Custom
// mappings win over the built-in table, which wins over the system table.
type MimeTypeResolver struct {
	custom map[string]string
}

// NewMimeTypeResolver merges inline mappings with those read from path (if
// non-empty). File entries override inline ones.
func NewMimeTypeResolver(inline map[string]string, path string) (*MimeTypeResolver, error) {
	r := &MimeTypeResolver{custom: make(map[string]string, len(inline))}
	for ext, t := range inline {
		r.custom[strings.ToLower(ext)] = t
	}
	if path == "" {
		return r, nil
	}
	fromFile, err := LoadCustomMimeTypesFromFile(path)
	if err != nil {
		return nil, err
	}
	for ext, t := range fromFile {
		r.custom[ext] = t
	}
	return r, nil
}

// TypeFor returns the Content-Type for filePath.
func (r *MimeTypeResolver) TypeFor(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return defaultOctetStreamMimeType
	}
	if r != nil {
		if t, ok := r.custom[ext]; ok {
			return t
		}
	}
	if t, ok := builtinMimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultOctetStreamMimeType
}

// LoadCustomMimeTypesFromFile reads an extension to MIME type table. The
// format follows the file extension: .toml, .yaml/.yml, otherwise JSON.
// Keys must start with '.' and values must not be empty; keys are
// lower-cased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsed map[string]string
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		err = toml.Unmarshal(data, &parsed)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &parsed)
	default:
		err = json.Unmarshal(data, &parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIME types file %q: %w", filePath, err)
	}

	out := make(map[string]string, len(parsed))
	for ext, t := range parsed {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if t == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		out[strings.ToLower(ext)] = t
	}
	return out, nil
}
