package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/util"
)

// Server owns the listeners and the http.Server that serves the request
// pipeline built by NewHandler.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	handler    http.Handler
	httpServer *http.Server

	mu        sync.Mutex
	listeners []net.Listener

	shutdownTimeout time.Duration
	signals         chan os.Signal
	stopChan        chan struct{}
	stopOnce        sync.Once
	readyChan       chan struct{}
}

// NewServer creates a Server for cfg. The handler pipeline is built up
// front so configuration problems surface before any socket is opened.
func NewServer(cfg *config.Config, lg *logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	h, err := NewHandler(cfg, lg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:             cfg,
		log:             lg,
		handler:         h,
		shutdownTimeout: 30 * time.Second,
		signals:         make(chan os.Signal, 1),
		stopChan:        make(chan struct{}),
		readyChan:       make(chan struct{}),
	}
	readHeaderTimeout := 10 * time.Second
	if cfg.Server != nil {
		if cfg.Server.GracefulShutdownTimeout != nil {
			s.shutdownTimeout = cfg.Server.GracefulShutdownTimeout.Value()
		}
		if cfg.Server.ReadHeaderTimeout != nil {
			readHeaderTimeout = cfg.Server.ReadHeaderTimeout.Value()
		}
	}
	s.httpServer = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Handler returns the request pipeline.
func (s *Server) Handler() http.Handler { return s.handler }

// Ready is closed once every listener is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.readyChan }

// Addr returns the address of the first listener, or nil before Start has
// opened one.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// initializeListeners uses sockets passed in through LISTEN_FDS when present
// and otherwise binds the configured address.
func (s *Server) initializeListeners(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inherited, err := util.InheritedListeners()
	if err != nil {
		return fmt.Errorf("failed to use inherited listeners: %w", err)
	}
	if len(inherited) > 0 {
		for _, l := range inherited {
			s.log.Info("Using inherited listener", logger.LogFields{"localAddr": l.Addr().String()})
		}
		s.listeners = inherited
		return nil
	}

	address := s.cfg.ListenAddress()
	l, err := util.CreateListener(ctx, "tcp", address)
	if err != nil {
		if util.IsAddrInUse(err) {
			return fmt.Errorf("address %s is already in use: %w", address, err)
		}
		return fmt.Errorf("failed to create new listener on %s: %w", address, err)
	}
	s.listeners = []net.Listener{l}
	s.log.Info("Successfully created new listener", logger.LogFields{"address": address, "localAddr": l.Addr().String()})
	return nil
}

// Start opens the listeners and serves until SIGINT or SIGTERM arrives, Stop
// is called, or a listener fails. SIGHUP reopens the log files.
func (s *Server) Start() error {
	if err := s.initializeListeners(context.Background()); err != nil {
		return err
	}

	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(s.signals)

	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()

	serveErrs := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l net.Listener) {
			if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrs <- fmt.Errorf("serving on %s: %w", l.Addr(), err)
			}
		}(l)
	}
	s.log.Info("Server started", logger.LogFields{
		"address":          s.Addr().String(),
		"environment":      s.cfg.Environment,
		"methods":          s.cfg.EffectiveMethods(),
		"client_root":      s.cfg.ClientRoot(),
		"response_timeout": s.cfg.ResponseTimeout().String(),
	})
	close(s.readyChan)

	var serveErr error
loop:
	for {
		select {
		case sig := <-s.signals:
			if sig == syscall.SIGHUP {
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
					continue
				}
				s.log.Info("Received SIGHUP, log files reopened", nil)
				continue
			}
			s.log.Info("Received signal, shutting down", logger.LogFields{"signal": sig.String()})
			break loop
		case <-s.stopChan:
			s.log.Info("Stop requested, shutting down", nil)
			break loop
		case serveErr = <-serveErrs:
			s.log.Error("Listener failed, shutting down", logger.LogFields{"error": serveErr.Error()})
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("Graceful shutdown did not complete, closing connections", logger.LogFields{"error": err.Error()})
		_ = s.httpServer.Close()
	}
	s.log.Info("Server stopped", nil)
	return serveErr
}

// Stop asks a running Start to shut down gracefully. It is safe to call more
// than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
