package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/server"
)

func main() {
	if len(os.Args) != 3 {
		log.Fatalf("Usage: %s <address> <client-dir>", os.Args[0])
	}

	cfg, err := quickConfig(os.Args[1], os.Args[2])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.CloseLogFiles()

	srv, err := server.NewServer(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	lg.Info("Starting server...", logger.LogFields{"address": cfg.ListenAddress(), "root": cfg.ClientRoot()})
	if err := srv.Start(); err != nil {
		lg.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
		lg.CloseLogFiles()
		os.Exit(1)
	}
	lg.Info("Server shut down gracefully", nil)
}

// quickConfig builds a configuration serving dir on addr, which is either
// host:port or a bare port.
func quickConfig(addr, dir string) (*config.Config, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host, portStr = "", addr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q in address %q", portStr, addr)
	}

	if !filepath.IsAbs(dir) {
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to convert client dir to an absolute path: %w", err)
		}
		dir = absPath
	}

	cfg := &config.Config{
		Environment: config.EnvironmentProduction,
		Client:      &config.ClientConfig{Dir: dir},
		Ports:       map[string]int{config.EnvironmentProduction: port},
		Server:      &config.ServerConfig{Host: &host},
	}
	if err := config.Prepare(cfg, ""); err != nil {
		return nil, err
	}
	return cfg, nil
}
