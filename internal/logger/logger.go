package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"example.com/statichttpd/internal/config"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// sink is a writer whose underlying file can be swapped on SIGHUP.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	file   *os.File
	target string
}

func openSink(target string) (*sink, error) {
	switch target {
	case "stdout":
		return &sink{out: os.Stdout, target: target}, nil
	case "stderr":
		return &sink{out: os.Stderr, target: target}, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &sink{out: f, file: f, target: target}, nil
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *sink) isTerminal() bool {
	f, ok := s.out.(*os.File)
	if !ok || s.file != nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *sink) reopen() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.file.Close()
	f, err := os.OpenFile(s.target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.out = os.Stderr
		s.file = nil
		return fmt.Errorf("failed to reopen log file %s: %w", s.target, err)
	}
	s.out = f
	s.file = f
	return nil
}

func (s *sink) close() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.file.Close()
	s.out = io.Discard
	s.file = nil
	return err
}

// AccessLogger writes one line per completed request.
type AccessLogger struct {
	zl            zerolog.Logger
	sink          *sink
	format        string
	realIPHeader  string
	parsedProxies parsedProxiesContainer
}

// ErrorLogger writes leveled diagnostic entries.
type ErrorLogger struct {
	zl   zerolog.Logger
	sink *sink
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog *AccessLogger
	errorLog  *ErrorLogger
}

// NewLogger creates and configures a new Logger instance from a defaulted
// logging configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errorTarget := "stderr"
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errorTarget = *cfg.ErrorLog.Target
	}
	es, err := openSink(errorTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log file %s: %w", errorTarget, err)
	}
	l := &Logger{errorLog: newErrorLogger(es, cfg.LogLevel)}

	if cfg.AccessLog == nil || (cfg.AccessLog.Enabled != nil && !*cfg.AccessLog.Enabled) {
		return l, nil
	}

	parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
	if err != nil {
		_ = es.close()
		return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
	}
	accessTarget := "stdout"
	if cfg.AccessLog.Target != nil {
		accessTarget = *cfg.AccessLog.Target
	}
	as, err := openSink(accessTarget)
	if err != nil {
		_ = es.close()
		return nil, fmt.Errorf("failed to open access log file %s: %w", accessTarget, err)
	}
	realIPHeader := ""
	if cfg.AccessLog.RealIPHeader != nil {
		realIPHeader = *cfg.AccessLog.RealIPHeader
	}
	l.accessLog = &AccessLogger{
		zl:            zerolog.New(as),
		sink:          as,
		format:        cfg.AccessLog.Format,
		realIPHeader:  realIPHeader,
		parsedProxies: parsedProxies,
	}
	return l, nil
}

func newErrorLogger(s *sink, level config.LogLevel) *ErrorLogger {
	var w io.Writer = s
	if s.isTerminal() {
		w = zerolog.ConsoleWriter{Out: s, TimeFormat: time.RFC3339}
	}
	return &ErrorLogger{
		zl:   zerolog.New(w).Level(zerologLevel(level)),
		sink: s,
	}
}

// NewTestLogger returns a Logger that writes JSON error entries at DEBUG level
// and JSON access entries to w.
func NewTestLogger(w io.Writer) *Logger {
	s := &sink{out: w, target: "test"}
	return &Logger{
		errorLog: &ErrorLogger{zl: zerolog.New(s).Level(zerolog.DebugLevel), sink: s},
		accessLog: &AccessLogger{
			zl:     zerolog.New(s),
			sink:   s,
			format: "json",
		},
	}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: &ErrorLogger{zl: zerolog.Nop()}}
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	container := parsedProxiesContainer{}
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

// isIPTrusted checks if a given IP address is in the list of trusted proxies.
func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client's real IP address. The header named
// by realIPHeaderName is walked right to left; the first address that is not
// a trusted proxy wins. A malformed entry falls back to the direct peer.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return peer
}

// LogAccess writes an access log entry.
func (al *AccessLogger) LogAccess(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}

	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	remote := getRealClientIP(req.RemoteAddr, req.Header, al.realIPHeader, al.parsedProxies)
	ts := time.Now().UTC().Format(timestampLayout)

	if al.format == "text" {
		ua := req.UserAgent()
		if ua == "" {
			ua = "-"
		}
		fmt.Fprintf(al.sink, "%s %s \"%s %s %s\" %d %s %dms %q\n",
			ts, remote, req.Method, req.RequestURI, req.Proto, status,
			humanize.Bytes(uint64(max(responseBytes, 0))), duration.Milliseconds(), ua)
		return
	}

	ev := al.zl.Log().
		Str("ts", ts).
		Str("remote_addr", remote).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes an error log entry if level passes the configured threshold.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields ...LogFields) {
	if el == nil {
		return
	}
	ev := el.zl.WithLevel(zerologLevel(level))
	if ev == nil {
		return
	}
	ev = ev.Str("ts", time.Now().UTC().Format(timestampLayout))
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields...)
}

// Access records a completed request. It is a no-op when access logging is
// disabled.
func (l *Logger) Access(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, status, responseBytes, duration)
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() {
	if l.accessLog != nil && l.accessLog.sink != l.errorLog.sink {
		_ = l.accessLog.sink.close()
	}
	_ = l.errorLog.sink.close()
}

// ReopenLogFiles closes and reopens file targets; called on SIGHUP so that
// rotated files are picked up. Stdio targets are left alone.
func (l *Logger) ReopenLogFiles() error {
	var firstErr error
	if err := l.errorLog.sink.reopen(); err != nil {
		firstErr = err
	}
	if l.accessLog != nil && l.accessLog.sink != l.errorLog.sink {
		if err := l.accessLog.sink.reopen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
