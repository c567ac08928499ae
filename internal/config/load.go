package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvironment             = EnvironmentProduction
	defaultPort                    = 80
	defaultIndexFile               = "index.html"
	defaultGracefulShutdownTimeout = 30 * time.Second
	defaultReadHeaderTimeout       = 10 * time.Second
	defaultLogLevel                = LogLevelInfo
	defaultAccessLogEnabled        = true
	defaultAccessLogTarget         = "stdout"
	defaultAccessLogFormat         = "json"
	defaultAccessLogRealIPHeader   = "X-Forwarded-For"
	defaultErrorLogTarget          = "stderr"

	// DefaultResponseTimeout applies when the active environment has no
	// entry in the timeouts table.
	DefaultResponseTimeout = 60000 * time.Millisecond

	// maxTimeoutMillis is the largest timeout that fits in a time.Duration.
	maxTimeoutMillis = math.MaxInt64 / int64(time.Millisecond)
)

var defaultMethods = []string{"GET", "HEAD", "OPTIONS"}

// ConfigError reports a problem with a configuration file or value.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.FilePath != "" {
		b.WriteString(" ")
		b.WriteString(e.FilePath)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension (.json, .toml, .yaml/.yml); any
// other extension is auto-detected by trying JSON, TOML and YAML in turn.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to resolve configuration file path", Err: err}
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: absPath, Message: "configuration file is empty"}
	}

	cfg, err := parse(absPath, data)
	if err != nil {
		return nil, err
	}
	if err := Prepare(cfg, absPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(path string, data []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cfg, err := parseJSON(data)
		if err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse JSON config", Err: err}
		}
		return cfg, nil
	case ".toml":
		cfg, err := parseTOML(data)
		if err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse TOML config", Err: err}
		}
		return cfg, nil
	case ".yaml", ".yml":
		cfg, err := parseYAML(data)
		if err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse YAML config", Err: err}
		}
		return cfg, nil
	}

	cfg, jsonErr := parseJSON(data)
	if jsonErr == nil {
		return cfg, nil
	}
	cfg, tomlErr := parseTOML(data)
	if tomlErr == nil {
		return cfg, nil
	}
	cfg, yamlErr := parseYAML(data)
	if yamlErr == nil {
		return cfg, nil
	}
	return nil, &ConfigError{
		FilePath: path,
		Message:  "failed to auto-detect and parse config",
		Err:      fmt.Errorf("JSON error: %v; TOML error: %v; YAML error: %v", jsonErr, tomlErr, yamlErr),
	}
}

func parseJSON(data []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseTOML(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

func parseYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare resolves relative paths against the directory of configFilePath
// (or the working directory when it is empty), applies defaults and
// validates cfg. LoadConfig calls it; programmatic configurations must too.
func Prepare(cfg *Config, configFilePath string) error {
	if cfg == nil {
		return &ConfigError{FilePath: configFilePath, Message: "configuration cannot be nil"}
	}
	cfg.originalFilePath = configFilePath
	if err := resolvePaths(cfg, configFilePath); err != nil {
		return err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.FilePath == "" {
			ce.FilePath = configFilePath
		}
		return err
	}
	return nil
}

func resolvePaths(cfg *Config, configFilePath string) error {
	baseDir := ""
	if configFilePath != "" {
		baseDir = filepath.Dir(configFilePath)
	}
	resolve := func(p string) (string, error) {
		if filepath.IsAbs(p) {
			return filepath.Clean(p), nil
		}
		if baseDir != "" {
			return filepath.Join(baseDir, p), nil
		}
		return filepath.Abs(p)
	}

	if cfg.Client != nil {
		if cfg.Client.Dir != "" {
			dir, err := resolve(cfg.Client.Dir)
			if err != nil {
				return &ConfigError{FilePath: configFilePath, Message: "failed to resolve client.dir", Err: err}
			}
			cfg.Client.Dir = dir
		}
		if cfg.Client.MimeTypesPath != nil && *cfg.Client.MimeTypesPath != "" {
			p, err := resolve(*cfg.Client.MimeTypesPath)
			if err != nil {
				return &ConfigError{FilePath: configFilePath, Message: "failed to resolve client.mime_types_path", Err: err}
			}
			cfg.Client.MimeTypesPath = &p
		}
	}
	return nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = append([]string(nil), defaultMethods...)
	}
	for i, m := range cfg.Methods {
		cfg.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}

	if cfg.Client != nil {
		if len(cfg.Client.IndexFiles) == 0 {
			cfg.Client.IndexFiles = []string{defaultIndexFile}
		}
		if cfg.Client.ExtensionFallback == nil {
			cfg.Client.ExtensionFallback = boolPtr(false)
		}
		if cfg.Client.DetectContentType == nil {
			cfg.Client.DetectContentType = boolPtr(false)
		}
	}

	if cfg.CORS == nil {
		cfg.CORS = &CORSConfig{}
	}
	if cfg.CORS.Domains == nil {
		cfg.CORS.Domains = []string{}
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = map[string]int64{}
	}
	if cfg.Ports == nil {
		cfg.Ports = map[string]int{}
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Host == nil {
		cfg.Server.Host = strPtr("")
	}
	if cfg.Server.H2C == nil {
		cfg.Server.H2C = boolPtr(false)
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		cfg.Server.GracefulShutdownTimeout = NewDuration(defaultGracefulShutdownTimeout)
	}
	if cfg.Server.ReadHeaderTimeout == nil {
		cfg.Server.ReadHeaderTimeout = NewDuration(defaultReadHeaderTimeout)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = defaultLogLevel
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	al := cfg.Logging.AccessLog
	if al.Enabled == nil {
		al.Enabled = boolPtr(defaultAccessLogEnabled)
	}
	if al.Target == nil {
		al.Target = strPtr(defaultAccessLogTarget)
	}
	if al.Format == "" {
		al.Format = defaultAccessLogFormat
	}
	if al.RealIPHeader == nil {
		al.RealIPHeader = strPtr(defaultAccessLogRealIPHeader)
	}
	if al.TrustedProxies == nil {
		al.TrustedProxies = []string{}
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == nil {
		cfg.Logging.ErrorLog.Target = strPtr(defaultErrorLogTarget)
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if err := validateMethods(cfg.Methods); err != nil {
		return err
	}
	if err := validateClient(cfg.Client); err != nil {
		return err
	}
	if cfg.CORS.Enabled {
		for _, d := range cfg.CORS.Domains {
			if strings.TrimSpace(d) == "" {
				return &ConfigError{Message: "cors.domains cannot contain empty entries"}
			}
			if strings.Contains(d, "://") || strings.Contains(d, "/") {
				return &ConfigError{Message: fmt.Sprintf("cors.domains entry %q must be a bare hostname", d)}
			}
		}
	}
	for _, env := range sortedKeys(cfg.Timeouts) {
		ms := cfg.Timeouts[env]
		if ms <= 0 {
			return &ConfigError{Message: fmt.Sprintf("timeouts.%s must be a positive number of milliseconds, got %d", env, ms)}
		}
		if ms > maxTimeoutMillis {
			return &ConfigError{Message: fmt.Sprintf("timeouts.%s must be at most %d milliseconds, got %d", env, maxTimeoutMillis, ms)}
		}
	}
	for _, env := range sortedKeys(cfg.Ports) {
		if p := cfg.Ports[env]; p < 1 || p > 65535 {
			return &ConfigError{Message: fmt.Sprintf("ports.%s must be between 1 and 65535, got %d", env, p)}
		}
	}
	return validateLogging(cfg.Logging)
}

func validateMethods(methods []string) error {
	seen := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		if m == "" {
			return &ConfigError{Message: "methods cannot contain empty entries"}
		}
		for _, r := range m {
			if (r < 'A' || r > 'Z') && r != '-' {
				return &ConfigError{Message: fmt.Sprintf("methods entry %q is not a valid HTTP method token", m)}
			}
		}
		if _, dup := seen[m]; dup {
			return &ConfigError{Message: fmt.Sprintf("methods entry %q is listed more than once", m)}
		}
		seen[m] = struct{}{}
	}
	return nil
}

func validateClient(c *ClientConfig) error {
	if c == nil {
		return nil
	}
	if c.Dir == "" {
		return &ConfigError{Message: "client.dir cannot be empty when the client section is present"}
	}
	fi, err := os.Stat(c.Dir)
	if err != nil {
		return &ConfigError{Message: fmt.Sprintf("client.dir %q is not accessible", c.Dir), Err: err}
	}
	if !fi.IsDir() {
		return &ConfigError{Message: fmt.Sprintf("client.dir %q is not a directory", c.Dir)}
	}
	for _, name := range c.IndexFiles {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return &ConfigError{Message: fmt.Sprintf("client.index_files entry %q must be a plain file name", name)}
		}
	}
	for ext, mimeType := range c.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Message: fmt.Sprintf("client.mime_types key %q must start with a '.'", ext)}
		}
		if mimeType == "" {
			return &ConfigError{Message: fmt.Sprintf("client.mime_types entry for %q cannot be empty", ext)}
		}
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return &ConfigError{Message: fmt.Sprintf("logging.log_level %q is invalid, must be one of DEBUG, INFO, WARNING, ERROR", l.LogLevel)}
	}
	switch l.AccessLog.Format {
	case "json", "text":
	default:
		return &ConfigError{Message: fmt.Sprintf("logging.access_log.format %q is invalid, must be json or text", l.AccessLog.Format)}
	}
	if err := validateTarget("logging.access_log.target", *l.AccessLog.Target); err != nil {
		return err
	}
	for _, p := range l.AccessLog.TrustedProxies {
		if strings.TrimSpace(p) == "" {
			return &ConfigError{Message: "logging.access_log.trusted_proxies cannot contain empty entries"}
		}
	}
	return validateTarget("logging.error_log.target", *l.ErrorLog.Target)
}

func validateTarget(field, target string) error {
	if target == "" {
		return &ConfigError{Message: field + " cannot be empty"}
	}
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return &ConfigError{Message: fmt.Sprintf("%s %q must be stdout, stderr or an absolute file path", field, target)}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
