package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/server"
)

var (
	configFilePath string
)

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON, TOML or YAML)")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}
	configFilePath = absConfigPath

	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", configFilePath, err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.CloseLogFiles()

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		appLogger.CloseLogFiles()
		os.Exit(1)
	}

	go func() {
		<-srv.Ready()
		announce(os.Stdout, srv.Addr())
	}()

	appLogger.Info("Starting server", logger.LogFields{
		"config":      configFilePath,
		"address":     cfg.ListenAddress(),
		"environment": cfg.Environment,
	})
	if err := srv.Start(); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		appLogger.CloseLogFiles()
		os.Exit(1)
	}
	appLogger.Info("Server has shut down gracefully", nil)
}

// announce prints the startup banner for the listener at addr.
func announce(w io.Writer, addr net.Addr) {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	url := color.New(color.FgCyan, color.Bold).Sprintf("http://127.0.0.1:%d", port)
	fmt.Fprintf(w, "%s %s\n", color.GreenString("HTTP server running at"), url)
}
