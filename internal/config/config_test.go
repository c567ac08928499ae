package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// writeTempFile creates a temporary file with the given content and extension
// inside a per-test directory. It returns the absolute path to the file.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "test-config-*"+ext)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}
	return f.Name()
}

// checkErrorContains checks if the error is not nil and its message contains the expected substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	checkErrorContains(t, err, "configuration file path cannot be empty")
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_file.json"))
	checkErrorContains(t, err, "failed to read configuration file")

	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConfigError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{"environment": "development", "ports": {"development": 8080}, "timeouts": {"development": 2500}}`
	path := writeTempFile(t, content, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid JSON: %v", err)
	}
	if cfg.Environment != EnvironmentDevelopment {
		t.Errorf("Expected environment %q, got %q", EnvironmentDevelopment, cfg.Environment)
	}
	if cfg.ListenPort() != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.ListenPort())
	}
	if cfg.ResponseTimeout() != 2500*time.Millisecond {
		t.Errorf("Expected timeout 2.5s, got %v", cfg.ResponseTimeout())
	}
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	clientDir := t.TempDir()
	content := `
environment = "production"
methods = ["get", "HEAD"]

[client]
dir = "` + filepath.ToSlash(clientDir) + `"
extension_fallback = true

[cors]
enabled = true
domains = ["example.com"]

[server]
host = "127.0.0.1"
`
	path := writeTempFile(t, content, ".toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid TOML: %v", err)
	}
	if cfg.ClientRoot() != filepath.Clean(clientDir) {
		t.Errorf("Expected client root %q, got %q", clientDir, cfg.ClientRoot())
	}
	if !reflect.DeepEqual(cfg.Methods, []string{"GET", "HEAD"}) {
		t.Errorf("Expected methods to be upper-cased, got %v", cfg.Methods)
	}
	if cfg.Client.ExtensionFallback == nil || !*cfg.Client.ExtensionFallback {
		t.Errorf("Expected extension_fallback true, got %v", cfg.Client.ExtensionFallback)
	}
	if !cfg.CORS.Enabled || !reflect.DeepEqual(cfg.CORS.Domains, []string{"example.com"}) {
		t.Errorf("Unexpected CORS config: %+v", cfg.CORS)
	}
	if cfg.ListenAddress() != "127.0.0.1:80" {
		t.Errorf("Expected listen address 127.0.0.1:80, got %q", cfg.ListenAddress())
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	content := `
environment: staging
timeouts:
  staging: 1500
ports:
  staging: 9090
server:
  graceful_shutdown_timeout: 5s
logging:
  log_level: ERROR
`
	for _, ext := range []string{".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			path := writeTempFile(t, content, ext)
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed for valid YAML: %v", err)
			}
			if cfg.ResponseTimeout() != 1500*time.Millisecond {
				t.Errorf("Expected timeout 1.5s, got %v", cfg.ResponseTimeout())
			}
			if cfg.ListenPort() != 9090 {
				t.Errorf("Expected port 9090, got %d", cfg.ListenPort())
			}
			if cfg.Server.GracefulShutdownTimeout.Value() != 5*time.Second {
				t.Errorf("Expected graceful shutdown 5s, got %v", cfg.Server.GracefulShutdownTimeout)
			}
			if cfg.Logging.LogLevel != LogLevelError {
				t.Errorf("Expected log level ERROR, got %s", cfg.Logging.LogLevel)
			}
		})
	}
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    LogLevel
	}{
		{name: "json", content: `{"logging": {"log_level": "DEBUG"}}`, ext: ".conf", want: LogLevelDebug},
		{name: "toml", content: "[logging]\nlog_level = \"WARNING\"\n", ext: ".cfg", want: LogLevelWarning},
		{name: "yaml", content: "logging:\n  log_level: ERROR\n", ext: ".settings", want: LogLevelError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, tc.ext)
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed for auto-detect %s: %v", tc.name, err)
			}
			if cfg.Logging.LogLevel != tc.want {
				t.Errorf("Expected log level %s, got %s", tc.want, cfg.Logging.LogLevel)
			}
		})
	}
}

func TestLoadConfig_AutoDetectFailure(t *testing.T) {
	path := writeTempFile(t, `not json or toml`, ".data")

	_, err := LoadConfig(path)
	checkErrorContains(t, err, "failed to auto-detect and parse config")
	checkErrorContains(t, err, "JSON error")
	checkErrorContains(t, err, "TOML error")
	checkErrorContains(t, err, "YAML error")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	for _, ext := range []string{".json", ".toml", ".yaml", ".empty"} {
		t.Run(ext, func(t *testing.T) {
			path := writeTempFile(t, "  \n", ext)
			_, err := LoadConfig(path)
			checkErrorContains(t, err, "configuration file is empty")
		})
	}
}

func TestLoadConfig_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		ext         string
		expectError string
	}{
		{
			name:        "json trailing comma",
			content:     `{"cors": {"enabled": true,}}`,
			ext:         ".json",
			expectError: "failed to parse JSON config",
		},
		{
			name:        "toml unterminated table",
			content:     "[cors\nenabled = true\n",
			ext:         ".toml",
			expectError: "failed to parse TOML config",
		},
		{
			name:        "yaml bad indentation",
			content:     "cors:\n  enabled: true\n domains: [a]\n",
			ext:         ".yaml",
			expectError: "failed to parse YAML config",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, tc.ext)
			_, err := LoadConfig(path)
			checkErrorContains(t, err, tc.expectError)
		})
	}
}

func TestLoadConfig_UnknownKeysRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		expect  string
	}{
		{name: "json", content: `{"cors": {"enabled": true, "origins": []}}`, ext: ".json", expect: "unknown field"},
		{name: "toml", content: "[cors]\norigins = []\n", ext: ".toml", expect: "unknown configuration keys: cors.origins"},
		{name: "yaml", content: "cors:\n  origins: []\n", ext: ".yaml", expect: "field origins not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, tc.ext)
			_, err := LoadConfig(path)
			checkErrorContains(t, err, tc.expect)
		})
	}
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeTempFile(t, `{}`, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for empty JSON: %v", err)
	}

	if cfg.Environment != defaultEnvironment {
		t.Errorf("Expected default environment %q, got %q", defaultEnvironment, cfg.Environment)
	}
	if !reflect.DeepEqual(cfg.Methods, defaultMethods) {
		t.Errorf("Expected default methods %v, got %v", defaultMethods, cfg.Methods)
	}
	if cfg.Client != nil {
		t.Errorf("Expected no client section, got %+v", cfg.Client)
	}
	if cfg.CORS == nil || cfg.CORS.Enabled || len(cfg.CORS.Domains) != 0 {
		t.Errorf("Expected disabled CORS with no domains, got %+v", cfg.CORS)
	}
	if cfg.ResponseTimeout() != DefaultResponseTimeout {
		t.Errorf("Expected default timeout %v, got %v", DefaultResponseTimeout, cfg.ResponseTimeout())
	}
	if cfg.ListenPort() != defaultPort {
		t.Errorf("Expected default port %d, got %d", defaultPort, cfg.ListenPort())
	}

	if cfg.Server.GracefulShutdownTimeout.Value() != defaultGracefulShutdownTimeout {
		t.Errorf("Expected default graceful shutdown timeout %s, got %v", defaultGracefulShutdownTimeout, cfg.Server.GracefulShutdownTimeout)
	}
	if cfg.Server.ReadHeaderTimeout.Value() != defaultReadHeaderTimeout {
		t.Errorf("Expected default read header timeout %s, got %v", defaultReadHeaderTimeout, cfg.Server.ReadHeaderTimeout)
	}
	if *cfg.Server.H2C {
		t.Error("Expected h2c disabled by default")
	}

	if cfg.Logging.LogLevel != defaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", defaultLogLevel, cfg.Logging.LogLevel)
	}
	al := cfg.Logging.AccessLog
	if !*al.Enabled || *al.Target != defaultAccessLogTarget || al.Format != defaultAccessLogFormat || *al.RealIPHeader != defaultAccessLogRealIPHeader {
		t.Errorf("Unexpected access log defaults: %+v", al)
	}
	if *cfg.Logging.ErrorLog.Target != defaultErrorLogTarget {
		t.Errorf("Expected default error log target %s, got %s", defaultErrorLogTarget, *cfg.Logging.ErrorLog.Target)
	}
}

func TestLoadConfig_ClientDefaultsAndRelativeDir(t *testing.T) {
	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "client"), 0o755); err != nil {
		t.Fatalf("Failed to create client dir: %v", err)
	}
	path := filepath.Join(base, "server.json")
	if err := os.WriteFile(path, []byte(`{"client": {"dir": "client"}}`), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if want := filepath.Join(base, "client"); cfg.ClientRoot() != want {
		t.Errorf("Expected client dir resolved to %q, got %q", want, cfg.ClientRoot())
	}
	if !reflect.DeepEqual(cfg.Client.IndexFiles, []string{"index.html"}) {
		t.Errorf("Expected default index files, got %v", cfg.Client.IndexFiles)
	}
	if *cfg.Client.ExtensionFallback || *cfg.Client.DetectContentType {
		t.Errorf("Expected extension_fallback and detect_content_type off by default")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	fileInsteadOfDir := writeTempFile(t, "x", ".txt")

	tests := []struct {
		name        string
		configJSON  string
		expectError string
	}{
		{
			name:        "lower-case method token with space",
			configJSON:  `{"methods": ["GET", "FOO BAR"]}`,
			expectError: `methods entry "FOO BAR" is not a valid HTTP method token`,
		},
		{
			name:        "duplicate method",
			configJSON:  `{"methods": ["GET", "get"]}`,
			expectError: `methods entry "GET" is listed more than once`,
		},
		{
			name:        "client without dir",
			configJSON:  `{"client": {}}`,
			expectError: "client.dir cannot be empty",
		},
		{
			name:        "client dir missing",
			configJSON:  `{"client": {"dir": "/definitely/not/here"}}`,
			expectError: "is not accessible",
		},
		{
			name:        "client dir is a file",
			configJSON:  `{"client": {"dir": ` + jsonString(fileInsteadOfDir) + `}}`,
			expectError: "is not a directory",
		},
		{
			name:        "index file with slash",
			configJSON:  `{"client": {"dir": ` + jsonString(t.TempDir()) + `, "index_files": ["a/index.html"]}}`,
			expectError: `client.index_files entry "a/index.html" must be a plain file name`,
		},
		{
			name:        "mime type key without dot",
			configJSON:  `{"client": {"dir": ` + jsonString(t.TempDir()) + `, "mime_types": {"txt": "text/plain"}}}`,
			expectError: `client.mime_types key "txt" must start with a '.'`,
		},
		{
			name:        "cors domain with scheme",
			configJSON:  `{"cors": {"enabled": true, "domains": ["https://example.com"]}}`,
			expectError: `cors.domains entry "https://example.com" must be a bare hostname`,
		},
		{
			name:        "cors empty domain",
			configJSON:  `{"cors": {"enabled": true, "domains": [""]}}`,
			expectError: "cors.domains cannot contain empty entries",
		},
		{
			name:        "zero timeout",
			configJSON:  `{"timeouts": {"production": 0}}`,
			expectError: "timeouts.production must be a positive number of milliseconds, got 0",
		},
		{
			name:        "timeout overflows duration",
			configJSON:  `{"timeouts": {"production": 9223372036855}}`,
			expectError: "timeouts.production must be at most 9223372036854 milliseconds, got 9223372036855",
		},
		{
			name:        "max int64 timeout",
			configJSON:  `{"timeouts": {"production": 9223372036854775807}}`,
			expectError: "timeouts.production must be at most 9223372036854 milliseconds",
		},
		{
			name:        "port out of range",
			configJSON:  `{"ports": {"production": 70000}}`,
			expectError: "ports.production must be between 1 and 65535, got 70000",
		},
		{
			name:        "invalid log_level",
			configJSON:  `{"logging": {"log_level": "TRACE"}}`,
			expectError: `logging.log_level "TRACE" is invalid`,
		},
		{
			name:        "access_log invalid format",
			configJSON:  `{"logging": {"access_log": {"format": "clf"}}}`,
			expectError: `logging.access_log.format "clf" is invalid`,
		},
		{
			name:        "access_log empty target",
			configJSON:  `{"logging": {"access_log": {"target": ""}}}`,
			expectError: "logging.access_log.target cannot be empty",
		},
		{
			name:        "error_log relative file target",
			configJSON:  `{"logging": {"error_log": {"target": "logs/error.log"}}}`,
			expectError: `logging.error_log.target "logs/error.log" must be stdout, stderr or an absolute file path`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.configJSON, ".json")
			_, err := LoadConfig(path)
			checkErrorContains(t, err, tc.expectError)

			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *ConfigError, got %T", err)
			}
			if ce.FilePath != path {
				t.Errorf("Expected error to carry file path %q, got %q", path, ce.FilePath)
			}
		})
	}
}

func TestPrepare_Programmatic(t *testing.T) {
	clientDir := t.TempDir()
	cfg := &Config{Client: &ClientConfig{Dir: clientDir}}
	if err := Prepare(cfg, ""); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if cfg.OriginalFilePath() != "" {
		t.Errorf("Expected empty original file path, got %q", cfg.OriginalFilePath())
	}
	if cfg.ClientRoot() != clientDir {
		t.Errorf("Expected client root %q, got %q", clientDir, cfg.ClientRoot())
	}

	if err := Prepare(nil, ""); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestConfig_EffectiveMethods(t *testing.T) {
	cfg := &Config{Methods: []string{"GET", "HEAD", "OPTIONS", "POST"}}
	if got := cfg.EffectiveMethods(); !reflect.DeepEqual(got, []string{"OPTIONS", "POST"}) {
		t.Errorf("Expected GET/HEAD removed without a client, got %v", got)
	}
	cfg.Client = &ClientConfig{Dir: "/srv"}
	if got := cfg.EffectiveMethods(); !reflect.DeepEqual(got, cfg.Methods) {
		t.Errorf("Expected all methods with a client, got %v", got)
	}
	var nilCfg *Config
	if got := nilCfg.EffectiveMethods(); got != nil {
		t.Errorf("Expected nil for nil config, got %v", got)
	}
}

func TestConfig_ResponseTimeoutAndPortFallbacks(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Timeouts:    map[string]int64{"production": 100},
		Ports:       map[string]int{"production": 8443},
	}
	if cfg.ResponseTimeout() != DefaultResponseTimeout {
		t.Errorf("Expected fallback timeout for unlisted environment, got %v", cfg.ResponseTimeout())
	}
	if cfg.ListenPort() != defaultPort {
		t.Errorf("Expected fallback port for unlisted environment, got %d", cfg.ListenPort())
	}
	cfg.Environment = "production"
	if cfg.ResponseTimeout() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", cfg.ResponseTimeout())
	}
	if cfg.ListenAddress() != ":8443" {
		t.Errorf("Expected :8443, got %q", cfg.ListenAddress())
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name      string
		inputJSON string
		inputTOML string
		inputYAML string
		expectErr string
		expectDur time.Duration
	}{
		{name: "valid duration json", inputJSON: `{"timeout": "10s"}`, expectDur: 10 * time.Second},
		{name: "valid duration toml", inputTOML: `timeout = "15m"`, expectDur: 15 * time.Minute},
		{name: "valid duration yaml", inputYAML: `timeout: 1m30s`, expectDur: 90 * time.Second},
		{name: "invalid duration string json", inputJSON: `{"timeout": "10"}`, expectErr: `invalid duration string "10": time: missing unit in duration`},
		{name: "invalid duration string toml", inputTOML: `timeout = "abc"`, expectErr: `invalid duration string "abc": time: invalid duration`},
		{name: "non-positive duration json", inputJSON: `{"timeout": "0s"}`, expectErr: `duration must be positive, got "0s"`},
		{name: "non-positive duration yaml", inputYAML: `timeout: -1h`, expectErr: `duration must be positive, got "-1h"`},
		{name: "not a string json", inputJSON: `{"timeout": 10}`, expectErr: "duration should be a string, got 10"},
		{name: "empty string json", inputJSON: `{"timeout": ""}`, expectErr: "duration string cannot be empty"},
		{name: "empty string toml", inputTOML: `timeout = ""`, expectErr: "duration string cannot be empty"},
	}

	type testStruct struct {
		Timeout Duration `json:"timeout" toml:"timeout" yaml:"timeout"`
	}

	check := func(t *testing.T, err error, s testStruct, expectErr string, expectDur time.Duration) {
		t.Helper()
		if expectErr != "" {
			checkErrorContains(t, err, expectErr)
			return
		}
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if s.Timeout.Value() != expectDur {
			t.Errorf("Expected duration %v, got %v", expectDur, s.Timeout.Value())
		}
		if s.Timeout.String() != expectDur.String() {
			t.Errorf("Expected duration string %v, got %v", expectDur.String(), s.Timeout.String())
		}
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var s testStruct
			var err error
			switch {
			case tc.inputJSON != "":
				err = json.Unmarshal([]byte(tc.inputJSON), &s)
			case tc.inputTOML != "":
				err = toml.Unmarshal([]byte(tc.inputTOML), &s)
			default:
				err = yaml.Unmarshal([]byte(tc.inputYAML), &s)
			}
			check(t, err, s, tc.expectErr, tc.expectDur)
		})
	}
}

func TestDuration_Marshal(t *testing.T) {
	d := NewDuration(2 * time.Minute)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(b) != `"2m0s"` {
		t.Errorf("Expected \"2m0s\", got %s", b)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(text) != "2m0s" {
		t.Errorf("Expected 2m0s, got %s", text)
	}
}

func TestLoadConfig_OriginalFilePath(t *testing.T) {
	path := writeTempFile(t, `{}`, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.OriginalFilePath() != path {
		t.Errorf("Expected OriginalFilePath() to be %q, got %q", path, cfg.OriginalFilePath())
	}

	var nilCfg *Config
	if nilCfg.OriginalFilePath() != "" {
		t.Errorf("Expected OriginalFilePath() on nil config to be \"\", got %q", nilCfg.OriginalFilePath())
	}
}

func TestIsFilePath(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"stdout", false},
		{"stderr", false},
		{"/var/log/access.log", true},
		{"relative.log", true},
	}
	for _, tc := range tests {
		if got := IsFilePath(tc.target); got != tc.want {
			t.Errorf("IsFilePath(%q) = %v, want %v", tc.target, got, tc.want)
		}
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
