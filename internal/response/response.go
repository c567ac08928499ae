// Package response holds the response draft produced for every request and
// the status-line text used as the fallback body of error responses.
package response

import (
	"net/http"
	"strconv"
)

// TextContentType is set on every status-line body.
const TextContentType = "text/plain; charset=utf-8"

const unknownReason = "Unknown Status"

// Draft is a fully specified response that has not been written yet.
// A nil Body with HeadSuppressed false means an empty body.
type Draft struct {
	Status         int
	Header         http.Header
	Body           []byte
	HeadSuppressed bool
}

// New returns an empty draft with the given status.
func New(status int) *Draft {
	return &Draft{Status: status, Header: make(http.Header)}
}

// StatusLine returns "<code> <reason>". A zero code means 200.
func StatusLine(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	reason := http.StatusText(code)
	if reason == "" {
		reason = unknownReason
	}
	return strconv.Itoa(code) + " " + reason
}

// Status returns a draft whose body is the status line. For HEAD the body is
// suppressed but Content-Length still describes it.
func Status(code int, head bool) *Draft {
	d := New(code)
	d.Header.Set("Content-Type", TextContentType)
	d.SetBody([]byte(StatusLine(code)))
	d.HeadSuppressed = head
	return d
}

// SetBody replaces the body and sets Content-Length to match.
func (d *Draft) SetBody(b []byte) {
	d.Body = b
	d.Header.Set("Content-Length", strconv.Itoa(len(b)))
}

// StatusCode returns the effective status.
func (d *Draft) StatusCode() int {
	if d.Status == 0 {
		return http.StatusOK
	}
	return d.Status
}

// WriteTo copies the draft onto w. Headers already present on w (such as
// CORS headers) are kept. It returns the number of body bytes written.
func (d *Draft) WriteTo(w http.ResponseWriter) (int64, error) {
	h := w.Header()
	for k, vv := range d.Header {
		h[k] = append([]string(nil), vv...)
	}
	if _, ok := d.Header["Content-Type"]; !ok {
		// Disable sniffing so that GET and HEAD carry identical headers.
		h["Content-Type"] = nil
	}
	if _, ok := d.Header["Content-Length"]; !ok {
		h.Set("Content-Length", strconv.Itoa(len(d.Body)))
	}
	w.WriteHeader(d.StatusCode())

	if d.HeadSuppressed || len(d.Body) == 0 {
		return 0, nil
	}
	n, err := w.Write(d.Body)
	return int64(n), err
}
