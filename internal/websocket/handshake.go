package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// GUID is the fixed value appended to the client key (RFC 6455 section 1.3).
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// IsUpgradeRequest reports whether req asks for a WebSocket upgrade: Upgrade
// equals "websocket", Connection lists the "upgrade" token and
// Sec-WebSocket-Key is non-empty. Matching is case-insensitive.
func IsUpgradeRequest(req *wire.Request) bool {
	if !strings.EqualFold(strings.TrimSpace(req.Header("Upgrade")), "websocket") {
		return false
	}
	if !headerContainsToken(req.Header("Connection"), "upgrade") {
		return false
	}
	return strings.TrimSpace(req.Header("Sec-WebSocket-Key")) != ""
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key) + GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandshakeResponse builds the 101 Switching Protocols response.
func HandshakeResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n")
}

// headerContainsToken checks a comma-separated header value for token.
func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
