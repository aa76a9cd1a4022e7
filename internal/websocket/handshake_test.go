package websocket

import (
	"strings"
	"testing"

	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

func TestAcceptKey(t *testing.T) {
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("AcceptKey() = %q, want s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
	}
}

func TestIsUpgradeRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers string
		want    bool
	}{
		{
			name:    "valid upgrade",
			headers: "Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: abc\r\n",
			want:    true,
		},
		{
			name:    "mixed case and token list",
			headers: "upgrade: WebSocket\r\nconnection: keep-alive, UPGRADE\r\nsec-websocket-key: abc\r\n",
			want:    true,
		},
		{
			name:    "missing key",
			headers: "Upgrade: websocket\r\nConnection: Upgrade\r\n",
			want:    false,
		},
		{
			name:    "empty key",
			headers: "Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key:  \r\n",
			want:    false,
		},
		{
			name:    "connection without upgrade token",
			headers: "Upgrade: websocket\r\nConnection: keep-alive\r\nSec-WebSocket-Key: abc\r\n",
			want:    false,
		},
		{
			name:    "other protocol",
			headers: "Upgrade: h2c\r\nConnection: Upgrade\r\nSec-WebSocket-Key: abc\r\n",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := wire.ParseRequest([]byte("GET /notes/ws HTTP/1.1\r\n" + tt.headers + "\r\n"))
			if got := IsUpgradeRequest(req); got != tt.want {
				t.Errorf("IsUpgradeRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandshakeResponse(t *testing.T) {
	resp := string(HandshakeResponse("dGhlIHNhbXBsZSBub25jZQ=="))
	for _, want := range []string{
		"HTTP/1.1 101 Switching Protocols\r\n",
		"Upgrade: websocket\r\n",
		"Connection: Upgrade\r\n",
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n",
	} {
		if !strings.Contains(resp, want) {
			t.Errorf("handshake response missing %q:\n%s", want, resp)
		}
	}
	if !strings.HasSuffix(resp, "\r\n\r\n") {
		t.Error("handshake response must end with a blank line")
	}
}
