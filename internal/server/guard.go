package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/response"
	"example.com/statichttpd/internal/router"
)

// Guard runs a router.Handler under a response deadline. The handler works
// in its own goroutine and only hands back a draft; Guard is the sole writer
// to the ResponseWriter, so each request gets exactly one response.
type Guard struct {
	next    router.Handler
	timeout time.Duration
	log     *logger.Logger
}

// NewGuard wraps next with a deadline of timeout.
func NewGuard(next router.Handler, timeout time.Duration, lg *logger.Logger) (*Guard, error) {
	if next == nil {
		return nil, fmt.Errorf("guarded handler cannot be nil")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("response timeout must be positive, got %v", timeout)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Guard{next: next, timeout: timeout, log: lg}, nil
}

func (g *Guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	head := r.Method == http.MethodHead
	done := make(chan *response.Draft, 1)
	go g.run(ctx, r.WithContext(ctx), head, done)

	select {
	case d := <-done:
		if r.Context().Err() != nil {
			g.clientGone(r)
			return
		}
		if d == nil {
			g.log.Error("Handler returned no response", logger.LogFields{"method": r.Method, "path": r.URL.EscapedPath()})
			d = response.Status(http.StatusInternalServerError, head)
		}
		g.write(w, r, d)
	case <-ctx.Done():
		if r.Context().Err() != nil {
			g.clientGone(r)
			return
		}
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		g.log.Warn("Response deadline exceeded", logger.LogFields{
			"method":  r.Method,
			"path":    r.URL.EscapedPath(),
			"timeout": g.timeout.String(),
		})
		g.write(w, r, response.Status(http.StatusInternalServerError, head))
	}
}

// run produces the draft. A panic becomes a 500 draft. The buffered channel
// lets a late draft be dropped without blocking.
func (g *Guard) run(ctx context.Context, r *http.Request, head bool, done chan<- *response.Draft) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error("Handler panic", logger.LogFields{
				"method": r.Method,
				"path":   r.URL.EscapedPath(),
				"panic":  fmt.Sprint(rec),
				"stack":  string(debug.Stack()),
			})
			done <- response.Status(http.StatusInternalServerError, head)
		}
	}()
	done <- g.next.Handle(ctx, r)
}

func (g *Guard) clientGone(r *http.Request) {
	g.log.Debug("Client went away before the response was ready", logger.LogFields{
		"method": r.Method,
		"path":   r.URL.EscapedPath(),
	})
}

func (g *Guard) write(w http.ResponseWriter, r *http.Request, d *response.Draft) {
	if _, err := d.WriteTo(w); err != nil {
		g.log.Debug("Failed to write response body", logger.LogFields{
			"method": r.Method,
			"path":   r.URL.EscapedPath(),
			"error":  err.Error(),
		})
	}
}
