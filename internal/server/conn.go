package server

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/auth"
	"github.com/gkumurzhi/ExperimentalServer/internal/dispatch"
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/websocket"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"go.uber.org/zap"
)

// exchange is the outcome of one request on a connection.
type exchange struct {
	keepAlive bool
	upgraded  bool
}

// handleConnection owns conn from accept to close: optional TLS handshake,
// then request cycles until keep-alive ends or the socket is taken over by a
// WebSocket session.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	// The raw socket is the tracking key even after a TLS wrapper replaces conn.
	raw := conn
	s.track(raw, true)
	defer func() {
		_ = raw.Close()
		s.track(raw, false)
		logging.LogConnection(remoteAddr, "connection_closed")
	}()
	logging.LogConnection(remoteAddr, "connection_accepted")

	if s.config.TLS != nil {
		tlsConn, err := s.handshake(ctx, conn)
		if err != nil {
			logging.Debug("TLS handshake failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
		// Closing the TLS conn also closes the raw socket.
		defer func() { _ = tlsConn.Close() }()
		conn = tlsConn
	}

	for served := 0; ; {
		var idle time.Duration
		if served > 0 {
			idle = s.config.KeepAliveTimeout
		}

		msg := s.reader.ReadMessage(ctx, conn, idle)
		if msg == nil {
			return
		}
		served++

		ex := s.processRequest(ctx, conn, msg, served)
		if ex.upgraded || !ex.keepAlive {
			return
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	timeout := s.config.TLSHandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tlsConn := tls.Server(conn, s.config.TLS)

	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	state := tlsConn.ConnectionState()
	logging.LogTLSHandshake(conn.RemoteAddr().String(), state.Version, state.CipherSuite, state.ServerName)
	return tlsConn, nil
}

// processRequest runs one exchange: keep-alive decision, authorization,
// size check, upgrade detection, dispatch and response.
func (s *Server) processRequest(ctx context.Context, conn net.Conn, raw []byte, served int) exchange {
	start := time.Now()
	remoteAddr := conn.RemoteAddr().String()
	requestID := newRequestID()
	decoy := s.resolver.DecoyMode()

	logging.LogRawBytes("Raw request", raw)
	req := wire.ParseRequest(raw)

	remaining, keepAlive := keepAliveRemaining(ShouldKeepAlive(req, decoy), served, s.config.KeepAliveMax)
	opts := wire.BuildOptions{
		Decoy:        decoy,
		CORSOrigin:   s.config.CORSOrigin,
		AllowMethods: s.resolver.AdvertisedMethods(),
		KeepAlive:    keepAlive,
	}
	if keepAlive {
		opts.KeepAliveTimeout = s.config.KeepAliveTimeout
		opts.KeepAliveMax = remaining
	}

	resp, failed := s.route(ctx, conn, req, requestID)
	if resp == nil {
		// The connection now belongs to a WebSocket session.
		return exchange{upgraded: true}
	}
	defer func() { _ = resp.Close() }()

	if failed || isTerminal(resp.StatusCode) {
		opts.KeepAlive = false
	}
	if !decoy {
		resp.SetHeader("X-Request-Id", requestID)
	}

	sent, err := s.writeResponse(conn, resp, opts)
	s.metrics.Record(resp.StatusCode, sent, failed)

	if !decoy {
		logging.LogRequest(requestID, remoteAddr, req.Method, req.Path, resp.StatusCode, sent, time.Since(start))
	}
	if err != nil {
		logging.Debug("Failed to write response",
			zap.String("remote_addr", remoteAddr),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return exchange{}
	}
	return exchange{keepAlive: opts.KeepAlive && !resp.IsStream()}
}

// route produces the response for req. A nil response means the request was
// upgraded and the WebSocket session has already finished with conn.
func (s *Server) route(ctx context.Context, conn net.Conn, req *wire.Request, requestID string) (*wire.Response, bool) {
	remoteAddr := conn.RemoteAddr().String()

	if s.authorizer != nil {
		switch s.authorizer.Authorize(remoteIP(conn), req.Header("Authorization")) {
		case auth.Throttled:
			return wire.ErrorResponse(429, "Too Many Requests"), false
		case auth.Deny:
			resp := wire.ErrorResponse(401, "Unauthorized")
			resp.SetHeader("WWW-Authenticate", s.authorizer.Challenge())
			return resp, false
		}
	}

	if cl := req.ContentLength(); cl > s.config.MaxBodySize {
		logging.Warn("Payload too large",
			zap.String("remote_addr", remoteAddr),
			zap.Int64("content_length", cl),
		)
		return wire.ErrorResponse(413, fmt.Sprintf("Payload too large. Max size: %d MB", s.config.MaxBodySize>>20)), false
	}

	if s.wsHandler != nil && s.config.WebSocketPath != "" &&
		strings.HasPrefix(req.Path, s.config.WebSocketPath) && websocket.IsUpgradeRequest(req) {
		err := websocket.Serve(ctx, conn, req.Header("Sec-WebSocket-Key"), s.wsHandler, websocket.Options{
			IdleTimeout:  s.config.WebSocketIdleTimeout,
			MaxFrameSize: s.config.WebSocketMaxFrameSize,
		})
		if err != nil {
			logging.Info("WebSocket session ended with error",
				zap.String("remote_addr", remoteAddr),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
		return nil, false
	}

	handler := s.resolver.Resolve(req.Method, req.HasBody())
	if handler == nil {
		return s.resolver.Miss(req.Method), false
	}

	resp, err := invoke(handler, req, requestID)
	if err != nil {
		logging.Error("Request handling error",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		msg := "Internal Server Error"
		if s.resolver.DecoyMode() {
			msg = "Error"
		}
		return wire.ErrorResponse(500, msg), true
	}
	return resp, false
}

// invoke calls h, converting both returned errors and panics into a
// *HandlerError.
func invoke(h dispatch.Handler, req *wire.Request, requestID string) (resp *wire.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			if resp != nil {
				_ = resp.Close()
			}
			resp = nil
			err = &HandlerError{
				Method: req.Method, Path: req.Path, RequestID: requestID,
				Panic: true, Err: fmt.Errorf("%v", r),
			}
		}
	}()

	resp, err = h.ServeRequest(req)
	if err == nil && resp == nil {
		err = errors.New("handler returned no response")
	}
	if err != nil {
		if resp != nil {
			_ = resp.Close()
		}
		return nil, &HandlerError{Method: req.Method, Path: req.Path, RequestID: requestID, Err: err}
	}
	return resp, nil
}

// writeResponse sends resp and returns the number of bytes written. Stream
// responses send the header block first and then copy the resource in
// StreamChunkSize pieces.
func (s *Server) writeResponse(conn net.Conn, resp *wire.Response, opts wire.BuildOptions) (int64, error) {
	if !resp.IsStream() {
		return s.write(conn, resp.Build(opts))
	}

	sent, err := s.write(conn, resp.BuildHeaders(opts))
	if err != nil {
		return sent, err
	}

	rc, _ := resp.Stream()
	size := s.config.StreamChunkSize
	if size <= 0 {
		size = 64 * 1024
	}
	buf := make([]byte, size)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			w, werr := s.write(conn, buf[:n])
			sent += w
			if werr != nil {
				return sent, werr
			}
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, fmt.Errorf("read stream: %w", rerr)
		}
	}
}

func (s *Server) write(conn net.Conn, data []byte) (int64, error) {
	if s.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	n, err := conn.Write(data)
	return int64(n), err
}

// isTerminal reports statuses after which the connection is always closed.
func isTerminal(status int) bool {
	switch status {
	case 401, 413, 429:
		return true
	}
	return false
}

func newRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
