package websocket

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// testClient drives the peer side of a pipe and decodes server frames.
type testClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func (c *testClient) readHandshake() string {
	c.t.Helper()
	chunk := make([]byte, 1024)
	for {
		if idx := bytes.Index(c.buf, []byte("\r\n\r\n")); idx >= 0 {
			head := string(c.buf[:idx+4])
			c.buf = c.buf[idx+4:]
			return head
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := c.conn.Read(chunk)
		if err != nil {
			c.t.Fatalf("reading handshake: %v", err)
		}
		c.buf = append(c.buf, chunk[:n]...)
	}
}

func (c *testClient) readFrame() *Frame {
	c.t.Helper()
	chunk := make([]byte, 1024)
	for {
		frame, n, err := ParseFrame(c.buf, 0)
		if err != nil {
			c.t.Fatalf("ParseFrame() error = %v", err)
		}
		if frame != nil {
			c.buf = c.buf[n:]
			return frame
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, err = c.conn.Read(chunk)
		if err != nil {
			c.t.Fatalf("reading frame: %v", err)
		}
		c.buf = append(c.buf, chunk[:n]...)
	}
}

func (c *testClient) send(payload []byte, opcode byte, fin bool) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write(BuildMaskedFrame(payload, opcode, fin, [4]byte{9, 8, 7, 6})); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

func startSession(t *testing.T, ctx context.Context, handler MessageHandler, opts Options) (*testClient, <-chan error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, server, "dGhlIHNhbXBsZSBub25jZQ==", handler, opts)
	}()

	c := &testClient{t: t, conn: client}
	head := c.readHandshake()
	if !strings.Contains(head, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("unexpected handshake: %q", head)
	}
	return c, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return")
		return nil
	}
}

func decodeReply(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := sonnet.Unmarshal(data, &m); err != nil {
		t.Fatalf("reply is not JSON: %v (%s)", err, data)
	}
	return m
}

func echoHandler() MessageHandler {
	return MessageHandlerFunc(func(payload []byte) (any, error) {
		return map[string]any{"type": "echo", "data": string(payload)}, nil
	})
}

func TestSessionEchoAndClose(t *testing.T) {
	c, done := startSession(t, context.Background(), echoHandler(), Options{})

	c.send([]byte("hi"), OpcodeText, true)
	reply := c.readFrame()
	if reply.Opcode != OpcodeText {
		t.Fatalf("reply opcode = %s, want text", reply.OpcodeString())
	}
	got := decodeReply(t, reply.Payload)
	if got["type"] != "echo" || got["data"] != "hi" {
		t.Errorf("reply = %s", reply.Payload)
	}

	c.send(nil, OpcodeClose, true)
	if f := c.readFrame(); f.Opcode != OpcodeClose {
		t.Errorf("expected close frame, got %s", f.OpcodeString())
	}
	if err := waitDone(t, done); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestSessionPingPong(t *testing.T) {
	c, done := startSession(t, context.Background(), echoHandler(), Options{})

	c.send([]byte("are you there"), OpcodePing, true)
	pong := c.readFrame()
	if pong.Opcode != OpcodePong || string(pong.Payload) != "are you there" {
		t.Errorf("got %s %q, want pong with same payload", pong.OpcodeString(), pong.Payload)
	}

	c.send(nil, OpcodeClose, true)
	c.readFrame()
	waitDone(t, done)
}

func TestSessionFragmentedMessage(t *testing.T) {
	c, done := startSession(t, context.Background(), echoHandler(), Options{})

	c.send([]byte("frag"), OpcodeText, false)
	c.send([]byte("mented"), OpcodeContinuation, true)
	reply := c.readFrame()
	if !strings.Contains(string(reply.Payload), `"fragmented"`) {
		t.Errorf("reply = %s", reply.Payload)
	}

	c.send(nil, OpcodeClose, true)
	c.readFrame()
	waitDone(t, done)
}

func TestSessionHandlerError(t *testing.T) {
	handler := MessageHandlerFunc(func([]byte) (any, error) {
		return nil, errors.New("bad message")
	})
	c, done := startSession(t, context.Background(), handler, Options{})

	c.send([]byte("x"), OpcodeText, true)
	reply := c.readFrame()
	got := decodeReply(t, reply.Payload)
	if got["type"] != "error" || got["error"] != "bad message" {
		t.Errorf("reply = %s", reply.Payload)
	}

	c.send(nil, OpcodeClose, true)
	c.readFrame()
	waitDone(t, done)
}

func TestSessionNilReplySendsNothing(t *testing.T) {
	handler := MessageHandlerFunc(func([]byte) (any, error) { return nil, nil })
	c, done := startSession(t, context.Background(), handler, Options{})

	c.send([]byte("quiet"), OpcodeBinary, true)
	c.send([]byte("p"), OpcodePing, true)
	if f := c.readFrame(); f.Opcode != OpcodePong {
		t.Errorf("first frame after silent message = %s, want pong", f.OpcodeString())
	}

	c.send(nil, OpcodeClose, true)
	c.readFrame()
	waitDone(t, done)
}

func TestSessionFrameTooLarge(t *testing.T) {
	c, done := startSession(t, context.Background(), echoHandler(), Options{MaxFrameSize: 8})

	c.send([]byte("this payload is too long"), OpcodeText, true)
	f := c.readFrame()
	if f.Opcode != OpcodeClose {
		t.Fatalf("expected close frame, got %s", f.OpcodeString())
	}
	if len(f.Payload) < 2 || int(f.Payload[0])<<8|int(f.Payload[1]) != CloseMessageTooBig {
		t.Errorf("close payload = % x, want code 1009", f.Payload)
	}
	if err := waitDone(t, done); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Serve() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestSessionIdlePing(t *testing.T) {
	c, done := startSession(t, context.Background(), echoHandler(), Options{IdleTimeout: 200 * time.Millisecond})

	if f := c.readFrame(); f.Opcode != OpcodePing {
		t.Fatalf("expected idle ping, got %s", f.OpcodeString())
	}
	// No pong: the next idle window closes the session.
	if f := c.readFrame(); f.Opcode != OpcodeClose {
		t.Fatalf("expected close after unanswered ping, got %s", f.OpcodeString())
	}
	if err := waitDone(t, done); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, done := startSession(t, ctx, echoHandler(), Options{})

	cancel()
	if f := c.readFrame(); f.Opcode != OpcodeClose {
		t.Fatalf("expected close on shutdown, got %s", f.OpcodeString())
	}
	if err := waitDone(t, done); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestServeHandshakeWriteFailure(t *testing.T) {
	server, client := net.Pipe()
	_ = client.Close()
	defer server.Close()

	err := Serve(context.Background(), server, "key", echoHandler(), Options{})
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("Serve() error = %v, want ErrHandshakeFailed", err)
	}
}
