// Package websocket implements the server side of RFC 6455 on top of a raw
// net.Conn that has already carried an HTTP upgrade request.
//
// # Handshake
//
// IsUpgradeRequest inspects a parsed request; HandshakeResponse produces the
// 101 Switching Protocols reply whose Sec-WebSocket-Accept value is
// base64(SHA-1(key + GUID)).
//
// # Framing
//
// ParseFrame works on an accumulated byte buffer and reports "not yet" with a
// nil frame so callers can keep reading. Declared payload lengths are checked
// against a maximum before any payload is buffered. Frames built by the
// server are never masked.
//
// # Sessions
//
// Serve writes the handshake and then loops: close frames are echoed and end
// the session, pings are answered with pongs, text and binary messages go to
// a MessageHandler whose reply is sent back as a JSON text frame. When the
// peer is silent for the idle timeout the session sends a ping, and a second
// silent window closes it.
package websocket
