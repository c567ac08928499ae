// Package staticfile resolves GET and HEAD requests to files below the
// client root directory.
package staticfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/response"
)

const readChunkSize = 32 * 1024

// Handler serves files for GET and HEAD.
type Handler struct {
	locator *Locator
	mime    *MimeTypeResolver // nil unless content type detection is on
	logger  *logger.Logger
	read    func(ctx context.Context, path string, sizeHint int64) ([]byte, error)
}

// New creates a Handler for the client section of a prepared configuration.
func New(cfg *config.ClientConfig, lg *logger.Logger) (*Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("staticfile: client config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("staticfile: logger cannot be nil")
	}
	opts := LocatorOptions{IndexFiles: cfg.IndexFiles}
	if cfg.ExtensionFallback != nil {
		opts.ExtensionFallback = *cfg.ExtensionFallback
	}
	loc, err := NewLocator(cfg.Dir, opts)
	if err != nil {
		return nil, err
	}

	h := &Handler{locator: loc, logger: lg, read: readFile}
	if cfg.DetectContentType != nil && *cfg.DetectContentType {
		path := ""
		if cfg.MimeTypesPath != nil {
			path = *cfg.MimeTypesPath
		}
		h.mime, err = NewMimeTypeResolver(cfg.MimeTypes, path)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Handle resolves r to a file and returns the draft to send. HEAD gets the
// same status and headers as GET with the body suppressed.
func (h *Handler) Handle(ctx context.Context, r *http.Request) *response.Draft {
	head := r.Method == http.MethodHead

	p, err := Resolve(r.URL.EscapedPath())
	if err != nil {
		h.logger.Warn("Rejected request path", logger.LogFields{
			"method": r.Method,
			"path":   r.URL.EscapedPath(),
			"error":  err.Error(),
		})
		return response.Status(http.StatusBadRequest, head)
	}

	res, err := h.locator.Locate(p)
	if err != nil {
		h.logger.Debug("No file for request path", logger.LogFields{"path": p.String()})
		return response.Status(http.StatusNotFound, head)
	}

	body, err := h.read(ctx, res.Path, res.Size)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("Failed to read file", logger.LogFields{"file": res.Path, "error": err.Error()})
		}
		return response.Status(http.StatusInternalServerError, head)
	}

	d := response.New(http.StatusOK)
	switch {
	case res.ContentType != "":
		d.Header.Set("Content-Type", res.ContentType)
	case h.mime != nil:
		d.Header.Set("Content-Type", h.mime.TypeFor(res.Path))
	}
	d.SetBody(body)
	d.HeadSuppressed = head
	return d
}

// readFile reads the whole file, giving up when ctx is done.
func readFile(ctx context.Context, path string, sizeHint int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, 0, max(sizeHint, 0)+1)
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
