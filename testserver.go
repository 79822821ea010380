package guestbookd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/guestbookd/client"
	"pkt.systems/guestbookd/internal/storage"
	"pkt.systems/pslog"
)

// TestServer wraps a running guestbookd.Server with convenient handles for tests.
type TestServer struct {
	Server   *Server
	BaseURL  string
	Listener net.Addr
	Client   *client.Client
	Config   Config

	stop    func(context.Context) error
	backend storage.Backend
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	lines := bytes.Split(p, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprint(r)
					if strings.Contains(msg, "Log in goroutine after") {
						return
					}
					if strings.Contains(msg, "Log in goroutine during concurrent Cleanups") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a pslog logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(writer).WithLogLevel()
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	return ts.stop(ctx)
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// Addr returns the listener address the server is bound to.
func (ts *TestServer) Addr() net.Addr {
	if ts == nil {
		return nil
	}
	if ts.Listener != nil {
		return ts.Listener
	}
	if ts.Server != nil {
		return ts.Server.ListenerAddr()
	}
	return nil
}

// Backend exposes the storage backend used by the server.
func (ts *TestServer) Backend() storage.Backend {
	if ts == nil {
		return nil
	}
	return ts.backend
}

// NewClient returns a new client configured against the test server.
func (ts *TestServer) NewClient(opts ...client.Option) (*client.Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("nil test server")
	}
	return client.New(ts.BaseURL, opts...)
}

type testServerOptions struct {
	cfg          Config
	cfgSet       bool
	mutators     []func(*Config)
	backend      storage.Backend
	logger       pslog.Logger
	clientOpts   []client.Option
	startTimeout time.Duration
	testTB       testing.TB
	testLogLevel pslog.Level
}

// TestServerOption customises NewTestServer behaviour.
type TestServerOption func(*testServerOptions)

// WithTestConfig provides an explicit Config to use. Missing fields will be
// defaulted during validation.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
		o.cfgSet = true
	}
}

// WithTestConfigMutator adjusts the config after defaults are applied.
func WithTestConfigMutator(mut func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if mut != nil {
			o.mutators = append(o.mutators, mut)
		}
	}
}

// WithTestBackend injects a pre-built storage backend.
func WithTestBackend(b storage.Backend) TestServerOption {
	return func(o *testServerOptions) {
		o.backend = b
	}
}

// WithTestLogger supplies an explicit logger.
func WithTestLogger(l pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = l
	}
}

// WithTestLoggerFromTB routes server logs through the test with the given level.
func WithTestLoggerFromTB(t testing.TB, level pslog.Level) TestServerOption {
	return func(o *testServerOptions) {
		o.testTB = t
		o.testLogLevel = level
	}
}

// WithTestLoggerTB uses the testing logger with Debug level.
func WithTestLoggerTB(t testing.TB) TestServerOption {
	return WithTestLoggerFromTB(t, pslog.DebugLevel)
}

// WithTestClientOptions appends extra options for the default client.
func WithTestClientOptions(opts ...client.Option) TestServerOption {
	return func(o *testServerOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithTestStartTimeout bounds how long NewTestServer waits for readiness.
func WithTestStartTimeout(d time.Duration) TestServerOption {
	return func(o *testServerOptions) {
		o.startTimeout = d
	}
}

// NewTestServer starts a guestbookd server suitable for tests. Call Stop to
// clean up resources.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	options := testServerOptions{
		cfg: Config{
			Store:       "mem://",
			ListenProto: "tcp",
			Listen:      "127.0.0.1:0",
		},
		startTimeout: 5 * time.Second,
		testLogLevel: pslog.DebugLevel,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := options.cfg
	if !options.cfgSet {
		cfg.Store = defaultIfEmpty(cfg.Store, "mem://")
		cfg.ListenProto = defaultIfEmpty(cfg.ListenProto, "tcp")
	}
	for _, mut := range options.mutators {
		mut(&cfg)
	}
	if cfg.Store == "" {
		cfg.Store = "mem://"
	}
	if cfg.ListenProto == "" {
		cfg.ListenProto = "tcp"
	}
	if cfg.ListenProto != "unix" && cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}

	logger := options.logger
	if logger == nil {
		if options.testTB != nil {
			logger = NewTestingLogger(options.testTB, options.testLogLevel)
		} else {
			logger = pslog.NoopLogger()
		}
	}

	startOpts := []Option{WithLogger(logger)}
	if options.backend != nil {
		startOpts = append(startOpts, WithBackend(options.backend))
	}
	startCtx := ctx
	if options.startTimeout > 0 {
		var cancel context.CancelFunc
		if startCtx == nil {
			startCtx = context.Background()
		}
		startCtx, cancel = context.WithTimeout(startCtx, options.startTimeout)
		defer cancel()
	}
	srv, stop, err := StartServer(ctx, cfg, startOpts...)
	if err != nil {
		return nil, err
	}
	if err := srv.WaitUntilReady(startCtx); err != nil {
		_ = stop(context.Background())
		return nil, fmt.Errorf("test server start: %w", err)
	}

	baseURL := ""
	if addr := srv.ListenerAddr(); addr != nil {
		if cfg.ListenProto == "unix" {
			baseURL = "http://unix"
		} else {
			baseURL = "http://" + addr.String()
		}
	}
	ts := &TestServer{
		Server:   srv,
		BaseURL:  baseURL,
		Listener: srv.ListenerAddr(),
		Config:   cfg,
		stop:     stop,
		backend:  options.backend,
	}
	if baseURL != "" {
		c, err := client.New(baseURL, options.clientOpts...)
		if err != nil {
			_ = stop(context.Background())
			return nil, err
		}
		ts.Client = c
	}
	return ts, nil
}

// StartTestServer is a convenience wrapper for tests that registers cleanup
// on tb and fails the test when startup errors.
func StartTestServer(tb testing.TB, opts ...TestServerOption) *TestServer {
	tb.Helper()
	ts, err := NewTestServer(context.Background(), opts...)
	if err != nil {
		tb.Fatalf("start test server: %v", err)
	}
	tb.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ts.Stop(shutdownCtx)
	})
	return ts
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
