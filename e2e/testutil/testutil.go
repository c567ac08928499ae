package testutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/http2"
	"gopkg.in/yaml.v3"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/server"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // Sent verbatim as the request target, e.g. "/a/../b"
	Headers http.Header
}

// HeaderMatcher maps header names to exact expected values. An empty value
// asserts the header is absent.
type HeaderMatcher map[string]string

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // Returns match status and a description of mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher for ExactBodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

// Match implements BodyMatcher for StringContainsBodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      HeaderMatcher
	BodyMatcher  BodyMatcher
	ExpectNoBody bool // If true, BodyMatcher is ignored and body must be empty
}

// ActualResponse stores the actual outcome of an HTTP request from a client.
type ActualResponse struct {
	StatusCode int
	Proto      string
	Headers    http.Header
	Body       []byte
}

// Mismatches compares actual against expected and lists every difference.
func Mismatches(expected ExpectedResponse, actual ActualResponse) []string {
	var out []string
	if expected.StatusCode != 0 && expected.StatusCode != actual.StatusCode {
		out = append(out, fmt.Sprintf("status: expected %d, got %d", expected.StatusCode, actual.StatusCode))
	}
	for name, want := range expected.Headers {
		got := actual.Headers.Get(name)
		if got != want {
			out = append(out, fmt.Sprintf("header %s: expected %q, got %q", name, want, got))
		}
	}
	if expected.ExpectNoBody {
		if len(actual.Body) != 0 {
			out = append(out, fmt.Sprintf("expected empty body, got %q", string(actual.Body)))
		}
	} else if expected.BodyMatcher != nil {
		if ok, why := expected.BodyMatcher.Match(actual.Body); !ok {
			out = append(out, why)
		}
	}
	return out
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteTempConfig creates a temporary configuration file in JSON, TOML or
// YAML format. It returns the path to the file and a cleanup function to
// remove it.
func WriteTempConfig(configData interface{}, format string) (filePath string, cleanupFunc func(), err error) {
	var data []byte
	var ext string

	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	case "yaml":
		data, err = yaml.Marshal(configData)
		ext = ".yaml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}

	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	tmpFile, err := os.CreateTemp("", "testconfig-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp config file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("failed to write to temp config file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("failed to close temp config file: %w", err)
	}

	filePath = tmpFile.Name()
	cleanupFunc = func() { os.Remove(filePath) }
	return filePath, cleanupFunc, nil
}

// SafeBuffer is a bytes.Buffer guarded for concurrent writers.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ServerInstance is a server started in-process from a configuration file.
type ServerInstance struct {
	Server     *server.Server
	Config     *config.Config
	Address    string      // e.g. "127.0.0.1:8080"
	ConfigPath string      // configuration file the server was loaded from
	LogBuffer  *SafeBuffer // error and access log output

	errCh        chan error
	mu           sync.Mutex
	CleanupFuncs []func() error
}

// StartTestServer loads configFile the same way cmd/server does and runs the
// server until Stop is called. It returns once the listener accepts
// connections.
func StartTestServer(configFile string) (*ServerInstance, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logs := &SafeBuffer{}
	srv, err := server.NewServer(cfg, logger.NewTestLogger(logs))
	if err != nil {
		return nil, err
	}

	si := &ServerInstance{
		Server:     srv,
		Config:     cfg,
		ConfigPath: configFile,
		LogBuffer:  logs,
		errCh:      make(chan error, 1),
	}
	go func() { si.errCh <- srv.Start() }()

	select {
	case <-srv.Ready():
		si.Address = srv.Addr().String()
		return si, nil
	case err := <-si.errCh:
		return nil, fmt.Errorf("server failed to start: %w. Logs:\n%s", err, logs.String())
	case <-time.After(10 * time.Second):
		srv.Stop()
		return nil, fmt.Errorf("server did not become ready within 10s. Logs:\n%s", logs.String())
	}
}

// AddCleanupFunc registers f to run after the server stops.
func (s *ServerInstance) AddCleanupFunc(f func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CleanupFuncs = append(s.CleanupFuncs, f)
}

// Stop shuts the server down gracefully and runs the cleanup functions.
func (s *ServerInstance) Stop() error {
	s.Server.Stop()

	var errs []string
	select {
	case err := <-s.errCh:
		if err != nil {
			errs = append(errs, fmt.Sprintf("server exited with error: %v", err))
		}
	case <-time.After(10 * time.Second):
		errs = append(errs, "timed out waiting for server to stop")
	}

	s.mu.Lock()
	for _, f := range s.CleanupFuncs {
		if err := f(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	s.CleanupFuncs = nil
	s.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("server stopped, but errors occurred during stop/cleanup: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HTTPClientType identifies the type of HTTP client used for a test.
type HTTPClientType string

const (
	GoHTTPClient HTTPClientType = "go_http_client"
	H2CClient    HTTPClientType = "h2c_client"
)

// HTTPTestClient makes requests against a running server.
type HTTPTestClient interface {
	Do(serverAddr string, request TestRequest) (ActualResponse, error)
	Type() HTTPClientType
}

// GoClient implements HTTPTestClient with net/http, over HTTP/1.1 or over
// cleartext HTTP/2 with prior knowledge.
type GoClient struct {
	kind   HTTPClientType
	client *http.Client
}

// NewGoHTTPClient returns an HTTP/1.1 client.
func NewGoHTTPClient() *GoClient {
	return &GoClient{
		kind:   GoHTTPClient,
		client: &http.Client{Timeout: 10 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}},
	}
}

// NewH2CClient returns a client that speaks HTTP/2 without TLS.
func NewH2CClient() *GoClient {
	return &GoClient{
		kind: H2CClient,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
	}
}

// Type returns the client type.
func (c *GoClient) Type() HTTPClientType { return c.kind }

// Do sends request to serverAddr. The path is sent as the raw request target
// so dot segments reach the server untouched.
func (c *GoClient) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, "http://"+serverAddr+"/", nil)
	if err != nil {
		return ActualResponse{}, err
	}
	if request.Path != "" {
		req.URL.Opaque = request.Path
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("request %s %s failed: %w", method, request.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return ActualResponse{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}
