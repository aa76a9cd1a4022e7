package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const (
	// DefaultIdleTimeout is how long the session waits for data before pinging.
	DefaultIdleTimeout = 60 * time.Second

	// Granularity of read deadlines, so cancellation is observed promptly.
	pollInterval = time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	readChunk = 64 * 1024
)

// ErrHandshakeFailed is returned when the 101 response could not be written.
var ErrHandshakeFailed = errors.New("websocket handshake failed")

// MessageHandler turns one text or binary message into a reply. The reply is
// serialized as JSON and sent back as a text frame; a nil reply sends nothing.
type MessageHandler interface {
	HandleMessage(payload []byte) (any, error)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(payload []byte) (any, error)

// HandleMessage calls f(payload).
func (f MessageHandlerFunc) HandleMessage(payload []byte) (any, error) {
	return f(payload)
}

// Options tunes a Session.
type Options struct {
	IdleTimeout  time.Duration
	MaxFrameSize int64
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Session is an upgraded connection in the OPEN state.
type Session struct {
	conn       net.Conn
	remoteAddr string
	handler    MessageHandler
	opts       Options

	buf      []byte
	fragment []byte
	fragOp   byte
	closed   bool
}

// Serve completes the handshake for key and runs the message loop until the
// peer closes, an I/O error occurs or ctx is cancelled. The connection is not
// closed by Serve.
func Serve(ctx context.Context, conn net.Conn, key string, handler MessageHandler, opts Options) error {
	remoteAddr := conn.RemoteAddr().String()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := conn.Write(HandshakeResponse(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	logging.LogConnection(remoteAddr, "websocket_upgraded")

	s := &Session{
		conn:       conn,
		remoteAddr: remoteAddr,
		handler:    handler,
		opts:       opts.withDefaults(),
	}
	err := s.run(ctx)
	logging.LogConnection(remoteAddr, "websocket_closed")
	return err
}

func (s *Session) run(ctx context.Context) error {
	chunk := make([]byte, readChunk)
	lastData := time.Now()
	pingSent := false

	for {
		// Drain every complete frame already buffered.
		for {
			frame, n, err := ParseFrame(s.buf, s.opts.MaxFrameSize)
			if err != nil {
				logging.Warn("Rejecting WebSocket frame",
					zap.String("remote_addr", s.remoteAddr),
					zap.Error(err),
				)
				s.sendClose(CloseMessageTooBig, "frame too large")
				return err
			}
			if frame == nil {
				break
			}
			s.buf = s.buf[n:]

			if err := s.handleFrame(frame); err != nil {
				s.sendClose(CloseGoingAway, "")
				return err
			}
			if s.closed {
				return nil
			}
		}

		if ctx.Err() != nil {
			s.sendClose(CloseGoingAway, "server shutting down")
			return nil
		}

		wait := pollInterval
		if remaining := s.opts.IdleTimeout - time.Since(lastData); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			if pingSent {
				logging.Info("WebSocket peer unresponsive, closing",
					zap.String("remote_addr", s.remoteAddr),
				)
				s.sendClose(CloseGoingAway, "idle")
				return nil
			}
			if err := s.write(BuildFrame(nil, OpcodePing, true)); err != nil {
				return err
			}
			pingSent = true
			lastData = time.Now()
			continue
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			lastData = time.Now()
			pingSent = false
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				logging.Debug("WebSocket peer closed connection",
					zap.String("remote_addr", s.remoteAddr),
				)
				return nil
			}
			s.sendClose(CloseGoingAway, "")
			return fmt.Errorf("websocket read: %w", err)
		}
	}
}

func (s *Session) handleFrame(frame *Frame) error {
	logging.LogWebSocketMessage(s.remoteAddr, "received", frame.Opcode, frame.Payload)

	switch frame.Opcode {
	case OpcodeClose:
		s.closed = true
		code := uint16(CloseNormal)
		if len(frame.Payload) >= 2 {
			code = uint16(frame.Payload[0])<<8 | uint16(frame.Payload[1])
		}
		// Best effort: the peer may already be gone.
		_ = s.write(BuildCloseFrame(code, ""))
		return nil

	case OpcodePing:
		return s.write(BuildFrame(frame.Payload, OpcodePong, true))

	case OpcodePong:
		return nil

	case OpcodeText, OpcodeBinary:
		if !frame.FIN {
			s.fragOp = frame.Opcode
			s.fragment = append(s.fragment[:0], frame.Payload...)
			return nil
		}
		return s.dispatch(frame.Payload)

	case OpcodeContinuation:
		if s.fragOp == 0 {
			return nil
		}
		s.fragment = append(s.fragment, frame.Payload...)
		if int64(len(s.fragment)) > s.opts.MaxFrameSize {
			s.sendClose(CloseMessageTooBig, "message too large")
			s.closed = true
			return nil
		}
		if !frame.FIN {
			return nil
		}
		payload := s.fragment
		s.fragment = nil
		s.fragOp = 0
		return s.dispatch(payload)

	default:
		logging.Warn("Unknown WebSocket opcode",
			zap.String("remote_addr", s.remoteAddr),
			zap.String("opcode", frame.OpcodeString()),
		)
		return nil
	}
}

// dispatch hands a complete message to the handler and writes its reply.
func (s *Session) dispatch(payload []byte) error {
	reply, err := s.invoke(payload)
	if err != nil {
		logging.Warn("WebSocket handler failed",
			zap.String("remote_addr", s.remoteAddr),
			zap.Error(err),
		)
		reply = map[string]any{"type": "error", "error": err.Error()}
	}
	if reply == nil {
		return nil
	}

	data, err := sonnet.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode websocket reply: %w", err)
	}
	logging.LogWebSocketMessage(s.remoteAddr, "sent", OpcodeText, data)
	return s.write(BuildFrame(data, OpcodeText, true))
}

func (s *Session) invoke(payload []byte) (reply any, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.HandleMessage(payload)
}

func (s *Session) write(frame []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (s *Session) sendClose(code uint16, reason string) {
	_ = s.write(BuildCloseFrame(code, reason))
}
