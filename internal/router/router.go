// Package router dispatches requests by HTTP method.
package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/response"
)

// Handler produces the response draft for a request. It must not write to
// any ResponseWriter and should stop early when ctx is done.
type Handler interface {
	Handle(ctx context.Context, r *http.Request) *response.Draft
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *http.Request) *response.Draft

func (f HandlerFunc) Handle(ctx context.Context, r *http.Request) *response.Draft {
	return f(ctx, r)
}

// Dispatcher routes a request by method: methods outside the allow-list get
// 501 with an Allow header, OPTIONS is answered directly, and every other
// allowed method goes to the handler registered for it.
type Dispatcher struct {
	allowed     []string
	allowedSet  map[string]struct{}
	allowHeader string

	mu       sync.RWMutex
	handlers map[string]Handler

	logger *logger.Logger
}

// NewDispatcher creates a Dispatcher for the ordered allow-list methods.
func NewDispatcher(methods []string, lg *logger.Logger) (*Dispatcher, error) {
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	d := &Dispatcher{
		allowed:    make([]string, 0, len(methods)),
		allowedSet: make(map[string]struct{}, len(methods)),
		handlers:   make(map[string]Handler),
		logger:     lg,
	}
	for _, m := range methods {
		if _, dup := d.allowedSet[m]; dup {
			continue
		}
		d.allowedSet[m] = struct{}{}
		d.allowed = append(d.allowed, m)
	}
	d.allowHeader = strings.Join(d.allowed, ", ")
	return d, nil
}

// Register associates a handler with an allowed method. OPTIONS is answered
// by the dispatcher itself and cannot be registered.
func (d *Dispatcher) Register(method string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for method '%s' cannot be nil", method)
	}
	if method == http.MethodOptions {
		return fmt.Errorf("method '%s' is answered by the dispatcher", method)
	}
	if _, ok := d.allowedSet[method]; !ok {
		return fmt.Errorf("method '%s' is not in the allowed methods %q", method, d.allowHeader)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[method]; exists {
		return fmt.Errorf("handler for method '%s' already registered", method)
	}
	d.handlers[method] = h
	return nil
}

// Allowed returns the allow-list in configuration order.
func (d *Dispatcher) Allowed() []string {
	return append([]string(nil), d.allowed...)
}

// AllowHeader is the Allow header value: the allowed methods joined by ", ".
func (d *Dispatcher) AllowHeader() string { return d.allowHeader }

// Handle implements Handler so the dispatcher can be wrapped like any other
// handler.
func (d *Dispatcher) Handle(ctx context.Context, r *http.Request) *response.Draft {
	return d.Dispatch(ctx, r)
}

// Dispatch returns the draft for r. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, r *http.Request) *response.Draft {
	head := r.Method == http.MethodHead

	if _, ok := d.allowedSet[r.Method]; !ok {
		d.logger.Info("Method not allowed", logger.LogFields{"method": r.Method, "path": r.URL.EscapedPath()})
		draft := response.Status(http.StatusNotImplemented, head)
		draft.Header.Set("Allow", d.allowHeader)
		return draft
	}

	if r.Method == http.MethodOptions {
		draft := response.New(http.StatusOK)
		draft.Header.Set("Allow", d.allowHeader)
		draft.SetBody(nil)
		return draft
	}

	d.mu.RLock()
	h, ok := d.handlers[r.Method]
	d.mu.RUnlock()
	if !ok {
		d.logger.Error("No handler registered for allowed method", logger.LogFields{"method": r.Method, "path": r.URL.EscapedPath()})
		return response.Status(http.StatusInternalServerError, head)
	}

	draft := h.Handle(ctx, r)
	if draft == nil {
		d.logger.Error("Handler returned no response", logger.LogFields{"method": r.Method, "path": r.URL.EscapedPath()})
		return response.Status(http.StatusInternalServerError, head)
	}
	return draft
}
