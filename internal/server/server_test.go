package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/auth"
	"github.com/gkumurzhi/ExperimentalServer/internal/dispatch"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// testServer runs a Server on a loopback port until the test ends.
type testServer struct {
	srv  *Server
	addr string
	stop context.CancelFunc
	done chan error
}

func startServer(t *testing.T, cfg *Config, resolver *dispatch.Resolver, opts ...Option) *testServer {
	t.Helper()

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.AcceptPollInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	srv, err := New(cfg, resolver, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := srv.Listen(ctx)
	if err != nil {
		cancel()
		t.Fatalf("Listen() error = %v", err)
	}

	ts := &testServer{srv: srv, addr: ln.Addr().String(), stop: cancel, done: make(chan error, 1)}
	go func() { ts.done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readResponse(t *testing.T, br *bufio.Reader) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, string(body)
}

func roundTrip(t *testing.T, ts *testServer, raw string) (*http.Response, string) {
	t.Helper()
	conn := ts.dial(t)
	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	return readResponse(t, bufio.NewReader(conn))
}

// expectClosed asserts the server closes conn without sending more data.
func expectClosed(t *testing.T, br *bufio.Reader) {
	t.Helper()
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after response, got %v", err)
	}
}

func testResolver(decoy bool) *dispatch.Resolver {
	table := dispatch.NewTable()
	table.HandleFunc("GET", func(req *wire.Request) (*wire.Response, error) {
		resp := wire.NewResponse(200)
		resp.SetText("hello "+req.Path, "text/plain")
		return resp, nil
	})
	table.HandleFunc("POST", func(req *wire.Request) (*wire.Response, error) {
		resp := wire.NewResponse(201)
		resp.SetText(fmt.Sprintf("got %d", len(req.Body)), "text/plain")
		return resp, nil
	})
	table.HandleFunc("FETCH", func(*wire.Request) (*wire.Response, error) {
		resp := wire.NewResponse(200)
		resp.SetStream(io.NopCloser(strings.NewReader(strings.Repeat("x", 200_000))), 200_000, "application/octet-stream")
		return resp, nil
	})
	table.HandleFunc("PING", func(*wire.Request) (*wire.Response, error) {
		panic("boom")
	})
	table.HandleFunc("INFO", func(*wire.Request) (*wire.Response, error) {
		return nil, fmt.Errorf("disk on fire")
	})

	r := &dispatch.Resolver{Table: table}
	if decoy {
		d, err := dispatch.NewDecoyTable(map[dispatch.Operation]string{
			dispatch.OpUpload:   "SYNCDATA",
			dispatch.OpDownload: "CHECKITEM",
			dispatch.OpInfo:     "QUERY",
			dispatch.OpPing:     "REPORTSTATUS",
			dispatch.OpNotepad:  "SUBMITENTRY",
		})
		if err != nil {
			panic(err)
		}
		r.Decoy = d
		r.Operations = map[dispatch.Operation]dispatch.Handler{
			dispatch.OpPing: dispatch.HandlerFunc(func(*wire.Request) (*wire.Response, error) {
				resp := wire.NewResponse(200)
				resp.SetText("pong", "text/plain")
				return resp, nil
			}),
		}
	}
	return r
}

func TestServeGet(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	resp, body := roundTrip(t, ts, "GET /a.txt HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body != "hello /a.txt" {
		t.Errorf("body = %q", body)
	}
	if id := resp.Header.Get("X-Request-Id"); len(id) != 8 {
		t.Errorf("X-Request-Id = %q, want 8 hex chars", id)
	}
	if got := resp.Header.Get("Server"); got != wire.ServerBanner {
		t.Errorf("Server = %q", got)
	}
	// ReadResponse consumes "Connection: close" into resp.Close.
	if !resp.Close {
		t.Error("response does not announce Connection: close")
	}
}

func TestServeKeepAliveReuse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepAliveMax = 2
	ts := startServer(t, cfg, testResolver(false))

	conn := ts.dial(t)
	br := bufio.NewReader(conn)

	_, _ = io.WriteString(conn, "GET /1 HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, body := readResponse(t, br)
	if body != "hello /1" {
		t.Fatalf("first body = %q", body)
	}
	if got := resp.Header.Get("Keep-Alive"); got != "timeout=15, max=1" {
		t.Errorf("Keep-Alive = %q", got)
	}
	if resp.Close {
		t.Error("first response should keep the connection open")
	}

	_, _ = io.WriteString(conn, "GET /2 HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, body = readResponse(t, br)
	if body != "hello /2" {
		t.Fatalf("second body = %q", body)
	}
	// The request budget is exhausted.
	if !resp.Close {
		t.Error("response does not announce Connection: close")
	}
	expectClosed(t, br)
}

func TestServeHTTP10Closes(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	conn := ts.dial(t)
	br := bufio.NewReader(conn)
	_, _ = io.WriteString(conn, "GET / HTTP/1.0\r\n\r\n")
	resp, _ := readResponse(t, br)
	if !resp.Close {
		t.Error("response does not announce Connection: close")
	}
	expectClosed(t, br)
}

func TestServeMethodNotAllowed(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	resp, body := roundTrip(t, ts, "BREW / HTTP/1.1\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 405 {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	allow := resp.Header.Get("Allow")
	if !strings.Contains(allow, "GET") || !strings.HasSuffix(allow, "OPTIONS") {
		t.Errorf("Allow = %q", allow)
	}
	if !strings.Contains(body, "Method 'BREW' not allowed") {
		t.Errorf("body = %q", body)
	}
}

func TestServeDecoyMode(t *testing.T) {
	ts := startServer(t, nil, testResolver(true))

	t.Run("unknown verb is 404", func(t *testing.T) {
		resp, _ := roundTrip(t, ts, "BREW / HTTP/1.1\r\n\r\n")
		if resp.StatusCode != 404 {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		if resp.Header.Get("Allow") != "" {
			t.Error("decoy miss must not carry Allow")
		}
	})

	t.Run("token resolves and hides identity", func(t *testing.T) {
		conn := ts.dial(t)
		br := bufio.NewReader(conn)
		_, _ = io.WriteString(conn, "REPORTSTATUS / HTTP/1.1\r\n\r\n")
		resp, body := readResponse(t, br)
		if resp.StatusCode != 200 || body != "pong" {
			t.Fatalf("got %d %q", resp.StatusCode, body)
		}
		if got := resp.Header.Get("Server"); got != wire.DecoyServerBanner {
			t.Errorf("Server = %q", got)
		}
		if resp.Header.Get("X-Request-Id") != "" {
			t.Error("decoy response carries X-Request-Id")
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != wire.DecoySafeMethods {
			t.Errorf("Allow-Methods = %q", got)
		}
		// Decoy mode never keeps the connection.
		expectClosed(t, br)
	})

	t.Run("fault body is terse", func(t *testing.T) {
		resp, body := roundTrip(t, ts, "PING / HTTP/1.1\r\n\r\n")
		if resp.StatusCode != 500 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if !strings.Contains(body, `"Error"`) {
			t.Errorf("body = %q", body)
		}
	})
}

func TestServePayloadTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 1024
	ts := startServer(t, cfg, testResolver(false))

	conn := ts.dial(t)
	br := bufio.NewReader(conn)
	body := strings.Repeat("a", 2048)
	_, _ = io.WriteString(conn, fmt.Sprintf("POST /up HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(body), body))

	resp, text := readResponse(t, br)
	if resp.StatusCode != 413 {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	if !strings.Contains(text, "Payload too large") {
		t.Errorf("body = %q", text)
	}
	expectClosed(t, br)
}

func TestServeHandlerFaults(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	for _, method := range []string{"PING", "INFO"} {
		t.Run(method, func(t *testing.T) {
			conn := ts.dial(t)
			br := bufio.NewReader(conn)
			_, _ = io.WriteString(conn, method+" / HTTP/1.1\r\n\r\n")
			resp, body := readResponse(t, br)
			if resp.StatusCode != 500 {
				t.Fatalf("status = %d, want 500", resp.StatusCode)
			}
			if !strings.Contains(body, "Internal Server Error") {
				t.Errorf("body = %q", body)
			}
			expectClosed(t, br)
		})
	}

	snap := ts.srv.Metrics().Snapshot()
	if snap.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", snap.TotalErrors)
	}
	if snap.StatusCounts[500] != 2 {
		t.Errorf("StatusCounts[500] = %d, want 2", snap.StatusCounts[500])
	}
}

func TestServeStreamForcesClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamChunkSize = 4096
	ts := startServer(t, cfg, testResolver(false))

	conn := ts.dial(t)
	br := bufio.NewReader(conn)
	_, _ = io.WriteString(conn, "FETCH /big HTTP/1.1\r\n\r\n")
	resp, body := readResponse(t, br)
	if len(body) != 200_000 {
		t.Fatalf("body length = %d", len(body))
	}
	if !resp.Close {
		t.Error("response does not announce Connection: close")
	}
	expectClosed(t, br)
}

func TestServeOptions(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	resp, _ := roundTrip(t, ts, "OPTIONS / HTTP/1.1\r\nAccess-Control-Request-Method: BREW\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 204 {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.HasSuffix(got, ", BREW") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

type staticAuthorizer struct {
	decision auth.Decision
}

func (a staticAuthorizer) Authorize(string, string) auth.Decision { return a.decision }
func (a staticAuthorizer) Challenge() string                      { return `Basic realm="test"` }

func TestServeAuthorization(t *testing.T) {
	tests := []struct {
		decision auth.Decision
		status   int
	}{
		{auth.Allow, 200},
		{auth.Deny, 401},
		{auth.Throttled, 429},
	}

	for _, tt := range tests {
		t.Run(tt.decision.String(), func(t *testing.T) {
			ts := startServer(t, nil, testResolver(false), WithAuthorizer(staticAuthorizer{tt.decision}))
			resp, _ := roundTrip(t, ts, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == 401 && resp.Header.Get("WWW-Authenticate") != `Basic realm="test"` {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
}

func TestServeTLS(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultCertParams("127.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	tlsCfg, err := NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.TLS = tlsCfg
	ts := startServer(t, cfg, testResolver(false))

	pool := x509.NewCertPool()
	pool.AddCert(cert.Certificate)
	conn, err := tls.Dial("tcp", ts.addr, &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"})
	if err != nil {
		t.Fatalf("tls.Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, _ = io.WriteString(conn, "GET /secure HTTP/1.1\r\nConnection: close\r\n\r\n")
	_, body := readResponse(t, bufio.NewReader(conn))
	if body != "hello /secure" {
		t.Errorf("body = %q", body)
	}
}

func TestServeTLSReleasesConnections(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultCertParams("127.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	tlsCfg, err := NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.TLS = tlsCfg
	ts := startServer(t, cfg, testResolver(false))

	pool := x509.NewCertPool()
	pool.AddCert(cert.Certificate)
	for i := 0; i < 3; i++ {
		conn, err := tls.Dial("tcp", ts.addr, &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"})
		if err != nil {
			t.Fatalf("tls.Dial() error = %v", err)
		}
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		_, _ = io.WriteString(conn, "GET /n HTTP/1.1\r\nConnection: close\r\n\r\n")
		readResponse(t, bufio.NewReader(conn))
		_ = conn.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.srv.GetActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("GetActiveConnections() = %d after all TLS clients closed, want 0", ts.srv.GetActiveConnections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeTLSHandshakeFailureClosesSilently(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}
	tlsCfg, err := NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.TLS = tlsCfg
	ts := startServer(t, cfg, testResolver(false))

	conn := ts.dial(t)
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\n\r\n")
	data, _ := io.ReadAll(conn)
	if strings.Contains(string(data), "HTTP/1.1") {
		t.Errorf("plaintext client got an HTTP response: %q", data)
	}
}

func TestServeShutdownStopsAccepting(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))
	ts.stop()

	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
		ts.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := net.DialTimeout("tcp", ts.addr, 500*time.Millisecond); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestShutdownClosesActiveConnections(t *testing.T) {
	ts := startServer(t, nil, testResolver(false))

	conn := ts.dial(t)
	br := bufio.NewReader(conn)
	if _, err := io.WriteString(conn, "GET /a HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatal(err)
	}
	readResponse(t, br)

	deadline := time.Now().Add(2 * time.Second)
	for ts.srv.GetActiveConnections() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("GetActiveConnections() = %d, want 1", ts.srv.GetActiveConnections())
		}
		time.Sleep(10 * time.Millisecond)
	}

	ts.srv.Shutdown()
	if _, err := br.ReadByte(); err == nil {
		t.Error("idle keep-alive connection still open after Shutdown")
	}
	if _, err := net.DialTimeout("tcp", ts.addr, 500*time.Millisecond); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
}

func TestNewRequiresResolver(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil, nil) should fail")
	}
}
