package server

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/cors"
	"example.com/statichttpd/internal/handlers/staticfile"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/router"
)

// NewDispatcher builds the method dispatcher for cfg. The static file handler
// serves GET and HEAD when a client directory is configured.
func NewDispatcher(cfg *config.Config, lg *logger.Logger) (*router.Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	methods := cfg.EffectiveMethods()
	d, err := router.NewDispatcher(methods, lg)
	if err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return d, nil
	}

	files, err := staticfile.New(cfg.Client, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to create static file handler: %w", err)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead} {
		if !slices.Contains(methods, m) {
			continue
		}
		if err := d.Register(m, files); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NewHandler assembles the request pipeline for cfg:
//
//	access log -> CORS -> response deadline -> method dispatch
//
// CORS runs ahead of the deadline guard so timeout responses carry the
// header too. With server.h2c enabled the result also speaks cleartext HTTP/2.
func NewHandler(cfg *config.Config, lg *logger.Logger) (http.Handler, error) {
	d, err := NewDispatcher(cfg, lg)
	if err != nil {
		return nil, err
	}
	return buildPipeline(cfg, lg, d)
}

func buildPipeline(cfg *config.Config, lg *logger.Logger, next router.Handler) (http.Handler, error) {
	guard, err := NewGuard(next, cfg.ResponseTimeout(), lg)
	if err != nil {
		return nil, err
	}

	var h http.Handler = guard
	h = cors.NewGate(cfg.CORS).Middleware(h)
	h = accessLog(lg, h)

	if cfg.Server != nil && cfg.Server.H2C != nil && *cfg.Server.H2C {
		h = h2c.NewHandler(h, &http2.Server{})
	}
	return h, nil
}

// statusRecorder captures what was written for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func accessLog(lg *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			// Nothing was written; the client went away first.
			return
		}
		lg.Access(r, rec.status, rec.bytes, time.Since(start))
	})
}
