package config

import (
	"net"
	"strconv"
	"time"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Environment names recognised out of the box. Any other name is accepted as
// long as the timeouts/ports tables use the same key.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Config is the top-level configuration structure for the server.
// It is built once by LoadConfig (or Prepare) and must not be mutated afterwards.
type Config struct {
	Environment string           `json:"environment,omitempty" toml:"environment,omitempty" yaml:"environment,omitempty"`
	Methods     []string         `json:"methods,omitempty" toml:"methods,omitempty" yaml:"methods,omitempty"`
	Client      *ClientConfig    `json:"client,omitempty" toml:"client,omitempty" yaml:"client,omitempty"`
	CORS        *CORSConfig      `json:"cors,omitempty" toml:"cors,omitempty" yaml:"cors,omitempty"`
	Timeouts    map[string]int64 `json:"timeouts,omitempty" toml:"timeouts,omitempty" yaml:"timeouts,omitempty"` // milliseconds per environment
	Ports       map[string]int   `json:"ports,omitempty" toml:"ports,omitempty" yaml:"ports,omitempty"`
	Server      *ServerConfig    `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Logging     *LoggingConfig   `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`

	originalFilePath string
}

// ClientConfig describes the directory served to clients.
type ClientConfig struct {
	Dir               string            `json:"dir" toml:"dir" yaml:"dir"`
	IndexFiles        []string          `json:"index_files,omitempty" toml:"index_files,omitempty" yaml:"index_files,omitempty"`
	ExtensionFallback *bool             `json:"extension_fallback,omitempty" toml:"extension_fallback,omitempty" yaml:"extension_fallback,omitempty"`
	DetectContentType *bool             `json:"detect_content_type,omitempty" toml:"detect_content_type,omitempty" yaml:"detect_content_type,omitempty"`
	MimeTypes         map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
	MimeTypesPath     *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty" yaml:"mime_types_path,omitempty"`
}

// CORSConfig gates the Access-Control-Allow-Origin echo.
type CORSConfig struct {
	Enabled bool     `json:"enabled" toml:"enabled" yaml:"enabled"`
	Domains []string `json:"domains,omitempty" toml:"domains,omitempty" yaml:"domains,omitempty"` // bare hostnames
}

// ServerConfig holds general listener settings.
type ServerConfig struct {
	Host                    *string   `json:"host,omitempty" toml:"host,omitempty" yaml:"host,omitempty"`
	H2C                     *bool     `json:"h2c,omitempty" toml:"h2c,omitempty" yaml:"h2c,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"`
	ReadHeaderTimeout       *Duration `json:"read_header_timeout,omitempty" toml:"read_header_timeout,omitempty" yaml:"read_header_timeout,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// OriginalFilePath returns the absolute path of the file the configuration
// was loaded from, or "" for programmatic configurations.
func (c *Config) OriginalFilePath() string {
	if c == nil {
		return ""
	}
	return c.originalFilePath
}

// ClientRoot returns the absolute client root directory, or "" when no
// client is configured.
func (c *Config) ClientRoot() string {
	if c == nil || c.Client == nil {
		return ""
	}
	return c.Client.Dir
}

// ResponseTimeout returns the response deadline for the active environment.
func (c *Config) ResponseTimeout() time.Duration {
	if c != nil {
		if ms, ok := c.Timeouts[c.Environment]; ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultResponseTimeout
}

// ListenPort returns the port for the active environment.
func (c *Config) ListenPort() int {
	if c != nil {
		if p, ok := c.Ports[c.Environment]; ok && p > 0 {
			return p
		}
	}
	return defaultPort
}

// ListenAddress joins server.host and the environment port.
func (c *Config) ListenAddress() string {
	host := ""
	if c != nil && c.Server != nil && c.Server.Host != nil {
		host = *c.Server.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(c.ListenPort()))
}

// EffectiveMethods returns the configured methods, minus GET and HEAD when
// there is no client directory to serve them from.
func (c *Config) EffectiveMethods() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Methods))
	for _, m := range c.Methods {
		if c.Client == nil && (m == "GET" || m == "HEAD") {
			continue
		}
		out = append(out, m)
	}
	return out
}

// IsFilePath reports whether a log target names a file rather than a stdio stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}
