package wire

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Header values injected at serialization time.
const (
	// DecoyServerBanner replaces the identity banner in decoy mode.
	DecoyServerBanner = "nginx"

	// DecoySafeMethods is the only method list advertised in decoy mode.
	DecoySafeMethods = "GET, POST, PUT, PATCH, OPTIONS"

	// DefaultAllowMethods is advertised when BuildOptions carries no list.
	DefaultAllowMethods = "GET, POST, PUT, PATCH, FETCH, INFO, PING, NONE, NOTE, OPTIONS"

	allowHeaders  = "Content-Type, X-File-Name, X-Session-Id, Authorization"
	exposeHeaders = "X-File-Name, X-File-Size, X-File-Path, X-Upload-Status, X-Fetch-Status, X-Ping-Response, X-Request-Id"

	httpDateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// ServerBanner is the identity sent in the Server header outside decoy mode.
var ServerBanner = "ExperimentalHTTPServer"

// BuildOptions carries the per-exchange connection policy into serialization.
type BuildOptions struct {
	Decoy            bool
	CORSOrigin       string
	AllowMethods     string // full method list; ignored in decoy mode
	KeepAlive        bool
	KeepAliveTimeout time.Duration
	KeepAliveMax     int
}

// Response accumulates one HTTP response. It holds either an in-memory body
// or a stream reference, never both.
type Response struct {
	StatusCode int

	keys   []string
	values map[string]string

	body       []byte
	stream     io.ReadCloser
	streamSize int64
}

// NewResponse creates an empty response with the given status.
func NewResponse(statusCode int) *Response {
	return &Response{
		StatusCode: statusCode,
		values:     make(map[string]string),
	}
}

// SetHeader sets a header, keeping the case given and the first insertion
// position.
func (r *Response) SetHeader(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Header returns a header value by its exact key.
func (r *Response) Header(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// HeaderKeys returns the header names in insertion order.
func (r *Response) HeaderKeys() []string {
	return append([]string(nil), r.keys...)
}

// SetBody sets an in-memory body together with Content-Type and
// Content-Length. Any stream reference is released.
func (r *Response) SetBody(body []byte, contentType string) {
	r.dropStream()
	r.body = body
	r.SetHeader("Content-Type", contentType)
	r.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

// SetText sets a UTF-8 text body.
func (r *Response) SetText(body, contentType string) {
	r.SetBody([]byte(body), contentType)
}

// SetJSON serializes v as the body with an application/json content type.
func (r *Response) SetJSON(v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response body: %w", err)
	}
	r.SetBody(data, "application/json")
	return nil
}

// SetStream makes the response body a stream of size bytes read from rc.
// The response takes ownership of rc.
func (r *Response) SetStream(rc io.ReadCloser, size int64, contentType string) {
	r.dropStream()
	r.body = nil
	r.stream = rc
	r.streamSize = size
	r.SetHeader("Content-Type", contentType)
	r.SetHeader("Content-Length", strconv.FormatInt(size, 10))
}

// SetFile opens path and sets it as the stream reference. An empty
// contentType is guessed from the extension.
func (r *Response) SetFile(path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if contentType == "" {
		contentType = ContentTypeFor(path)
	}
	r.SetStream(f, info.Size(), contentType)
	return nil
}

// Body returns the in-memory body.
func (r *Response) Body() []byte {
	return r.body
}

// Stream returns the stream reference and its size, or nil.
func (r *Response) Stream() (io.ReadCloser, int64) {
	return r.stream, r.streamSize
}

// IsStream reports whether the body is a stream reference.
func (r *Response) IsStream() bool {
	return r.stream != nil
}

// Close releases the stream reference, if any.
func (r *Response) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

func (r *Response) dropStream() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
		r.streamSize = 0
	}
}

// BuildHeaders serializes the status line and headers, including the
// terminating blank line. Standard headers are added only when the caller
// did not set them. A stream reference always serializes with
// Connection: close.
func (r *Response) BuildHeaders(opts BuildOptions) []byte {
	keys, values := r.finalHeaders(opts)

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.StatusCode, StatusText(r.StatusCode))
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(values[k])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// Build serializes headers plus the in-memory body. It must not be used for
// stream responses; the connection driver copies those itself.
func (r *Response) Build(opts BuildOptions) []byte {
	head := r.BuildHeaders(opts)
	out := make([]byte, 0, len(head)+len(r.body))
	out = append(out, head...)
	return append(out, r.body...)
}

func (r *Response) finalHeaders(opts BuildOptions) ([]string, map[string]string) {
	keys := append([]string(nil), r.keys...)
	values := make(map[string]string, len(r.values)+8)
	for k, v := range r.values {
		values[k] = v
	}

	add := func(key, value string) {
		if _, ok := values[key]; ok {
			return
		}
		keys = append(keys, key)
		values[key] = value
	}

	if opts.Decoy {
		add("Server", DecoyServerBanner)
	} else {
		add("Server", ServerBanner)
	}
	add("Date", time.Now().UTC().Format(httpDateFormat))

	keepAlive := opts.KeepAlive && r.stream == nil
	if r.stream != nil {
		if _, ok := values["Connection"]; ok {
			values["Connection"] = "close"
		}
		delete(values, "Keep-Alive")
		keys = removeKey(keys, "Keep-Alive")
	}
	if keepAlive {
		add("Connection", "keep-alive")
		add("Keep-Alive", fmt.Sprintf("timeout=%d, max=%d",
			int(opts.KeepAliveTimeout/time.Second), opts.KeepAliveMax))
	} else {
		add("Connection", "close")
	}

	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	add("Access-Control-Allow-Origin", origin)
	switch {
	case opts.Decoy:
		add("Access-Control-Allow-Methods", DecoySafeMethods)
	case opts.AllowMethods != "":
		add("Access-Control-Allow-Methods", opts.AllowMethods)
	default:
		add("Access-Control-Allow-Methods", DefaultAllowMethods)
	}
	add("Access-Control-Allow-Headers", allowHeaders)
	if !opts.Decoy {
		add("Access-Control-Expose-Headers", exposeHeaders)
	}

	return keys, values
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// ContentTypeFor guesses a media type from a file name.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
