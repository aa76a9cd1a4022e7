package wire

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// pipeReader returns a Reader with short budgets suitable for tests.
func pipeReader(maxBody int64) *Reader {
	r := NewReader(maxBody)
	r.ReadTimeout = 200 * time.Millisecond
	r.HeaderTimeout = 2 * time.Second
	r.BodyTimeout = 2 * time.Second
	return r
}

// feed writes each chunk to the client side of a pipe from a goroutine and
// closes it afterwards when closeAfter is set.
func feed(t *testing.T, client net.Conn, chunks []string, gap time.Duration, closeAfter bool) {
	t.Helper()
	go func() {
		for _, c := range chunks {
			if _, err := client.Write([]byte(c)); err != nil {
				return
			}
			if gap > 0 {
				time.Sleep(gap)
			}
		}
		if closeAfter {
			_ = client.Close()
		}
	}()
}

func TestReadMessageExactLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	head := "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	feed(t, client, []string{head + "helloEXTRA"}, 0, false)

	got := pipeReader(1024).ReadMessage(context.Background(), server, 0)
	want := head + "hello"
	if string(got) != want {
		t.Errorf("ReadMessage() = %q, want %q", got, want)
	}
}

func TestReadMessageAcrossChunks(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	chunks := []string{
		"PUT /file HTTP/1.1\r\n",
		"Content-Len",
		"gth: 10\r\nX-File-Name: a\r\n",
		"\r\n01234",
		"56789",
	}
	feed(t, client, chunks, 10*time.Millisecond, false)

	got := pipeReader(1024).ReadMessage(context.Background(), server, 0)
	want := strings.Join(chunks, "")
	if string(got) != want {
		t.Errorf("ReadMessage() = %q, want %q", got, want)
	}
}

func TestReadMessageNoBody(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"
	feed(t, client, []string{msg}, 0, false)

	got := pipeReader(1024).ReadMessage(context.Background(), server, 0)
	if string(got) != msg {
		t.Errorf("ReadMessage() = %q, want %q", got, msg)
	}
}

func TestReadMessageMalformedContentLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg := "POST / HTTP/1.1\r\nContent-Length: many\r\n\r\n"
	feed(t, client, []string{msg}, 0, false)

	got := pipeReader(1024).ReadMessage(context.Background(), server, 0)
	if string(got) != msg {
		t.Errorf("ReadMessage() = %q, want %q", got, msg)
	}
}

func TestReadMessagePeerCloseWithoutData(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	_ = client.Close()
	if got := pipeReader(1024).ReadMessage(context.Background(), server, 0); got != nil {
		t.Errorf("ReadMessage() = %q, want nil", got)
	}
}

func TestReadMessagePeerCloseMidBody(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	feed(t, client, []string{"POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nshort"}, 0, true)
	if got := pipeReader(1024).ReadMessage(context.Background(), server, 0); got != nil {
		t.Errorf("ReadMessage() = %q, want nil", got)
	}
}

func TestReadMessageTimeoutWithoutHeaders(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	feed(t, client, []string{"GET / HTTP/1.1\r\nHost"}, 0, false)
	start := time.Now()
	if got := pipeReader(1024).ReadMessage(context.Background(), server, 0); got != nil {
		t.Errorf("ReadMessage() = %q, want nil", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ReadMessage() took %v, want roughly one read timeout", elapsed)
	}
}

func TestReadMessageOversize(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	r := pipeReader(16)
	r.HeaderSlack = 64
	body := strings.Repeat("x", 200)
	feed(t, client, []string{"POST / HTTP/1.1\r\nContent-Length: 200\r\n\r\n" + body}, 0, false)

	if got := r.ReadMessage(context.Background(), server, 0); got != nil {
		t.Errorf("ReadMessage() returned %d bytes, want nil", len(got))
	}
}

func TestReadMessageOversizeWithoutHeaders(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	r := pipeReader(16)
	r.HeaderSlack = 64
	feed(t, client, []string{strings.Repeat("A", 200)}, 0, false)

	if got := r.ReadMessage(context.Background(), server, 0); got != nil {
		t.Errorf("ReadMessage() returned %d bytes, want nil", len(got))
	}
}

func TestReadMessageIdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	r := pipeReader(1024)
	start := time.Now()
	if got := r.ReadMessage(context.Background(), server, 300*time.Millisecond); got != nil {
		t.Errorf("ReadMessage() = %q, want nil", got)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("idle wait returned after %v, want at least the idle timeout", elapsed)
	}
}

func TestReadMessageIdleThenRequest(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg := "GET /again HTTP/1.1\r\n\r\n"
	go func() {
		// Longer than ReadTimeout, shorter than the idle wait.
		time.Sleep(400 * time.Millisecond)
		_, _ = client.Write([]byte(msg))
	}()

	got := pipeReader(1024).ReadMessage(context.Background(), server, 3*time.Second)
	if string(got) != msg {
		t.Errorf("ReadMessage() = %q, want %q", got, msg)
	}
}

func TestReadMessageCancelledWhileIdle(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if got := pipeReader(1024).ReadMessage(ctx, server, 30*time.Second); got != nil {
		t.Errorf("ReadMessage() = %q, want nil", got)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancelled idle wait took %v", elapsed)
	}
}

func TestReadMessageHugeDeclaredLength(t *testing.T) {
	tests := []string{
		"9223372036854775807",
		"9223372036854775000",
		"4611686018427387904",
	}
	for _, length := range tests {
		t.Run(length, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()
			defer client.Close()

			feed(t, client, []string{"POST / HTTP/1.1\r\nContent-Length: " + length + "\r\n\r\n"}, 0, false)

			var got []byte
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("ReadMessage() panicked: %v", r)
					}
				}()
				got = pipeReader(1024).ReadMessage(context.Background(), server, 0)
			}()
			if got != nil {
				t.Errorf("ReadMessage() = %q, want nil", got)
			}
		})
	}
}

func TestScanContentLength(t *testing.T) {
	tests := []struct {
		head string
		want int64
	}{
		{"POST / HTTP/1.1\r\ncontent-length: 12", 12},
		{"POST / HTTP/1.1\r\nCONTENT-LENGTH:3\r\nContent-Length: 9", 3},
		{"GET / HTTP/1.1\r\nHost: x", 0},
		{"POST / HTTP/1.1\r\nContent-Length: x1", 0},
		{"POST / HTTP/1.1\r\nContent-Length: +4", 0},
	}
	for _, tt := range tests {
		if got := scanContentLength([]byte(tt.head)); got != tt.want {
			t.Errorf("scanContentLength(%q) = %d, want %d", tt.head, got, tt.want)
		}
	}
}

func TestReadThenParse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	feed(t, client, []string{"NOTE /notes?list HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}"}, 0, false)
	raw := pipeReader(1024).ReadMessage(context.Background(), server, 0)
	req := ParseRequest(raw)
	if req.Method != "NOTE" || req.Path != "/notes" || !bytes.Equal(req.Body, []byte("{}")) {
		t.Errorf("parsed %v with body %q", req, req.Body)
	}
	if _, ok := req.Query["list"]; !ok {
		t.Error("query key 'list' should be present")
	}
}
