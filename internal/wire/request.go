package wire

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
)

var headerTerminator = []byte("\r\n\r\n")

// Request is one parsed HTTP request. It is not modified after ParseRequest
// returns.
type Request struct {
	Method  string
	Path    string            // percent-decoded, without query
	Query   map[string]string // last value wins on repeated keys
	Version string
	Headers map[string]string // lowercase keys, trimmed values, last line wins
	Body    []byte
}

// ParseRequest parses a complete request buffer. It never fails: malformed
// input leaves fields empty so the caller can still answer with a status code.
func ParseRequest(raw []byte) *Request {
	req := &Request{
		Query:   make(map[string]string),
		Headers: make(map[string]string),
	}

	head := raw
	if idx := bytes.Index(raw, headerTerminator); idx >= 0 {
		head = raw[:idx]
		req.Body = raw[idx+len(headerTerminator):]
	}

	lines := strings.Split(string(head), "\r\n")
	req.parseRequestLine(lines[0])

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	return req
}

func (r *Request) parseRequestLine(line string) {
	parts := strings.Fields(line)
	if len(parts) > 0 {
		r.Method = parts[0]
	}
	if len(parts) > 1 {
		r.parseTarget(parts[1])
	}
	if len(parts) > 2 {
		r.Version = parts[2]
	}
}

func (r *Request) parseTarget(target string) {
	rawPath, rawQuery, _ := strings.Cut(target, "?")
	// Drop any fragment a sloppy client may have sent.
	rawPath, _, _ = strings.Cut(rawPath, "#")
	rawQuery, _, _ = strings.Cut(rawQuery, "#")

	if decoded, err := url.PathUnescape(rawPath); err == nil {
		r.Path = decoded
	} else {
		r.Path = rawPath
	}

	// ParseQuery keeps every well-formed pair even when it reports an error
	// for a malformed one.
	values, _ := url.ParseQuery(rawQuery)
	for key, vals := range values {
		if len(vals) > 0 {
			r.Query[key] = vals[len(vals)-1]
		}
	}
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// HasHeader reports whether the named header was present.
func (r *Request) HasHeader(name string) bool {
	_, ok := r.Headers[strings.ToLower(name)]
	return ok
}

// ContentLength is the declared body length; 0 when absent or unparsable.
func (r *Request) ContentLength() int64 {
	return parseContentLength(r.Headers["content-length"])
}

// ContentType returns the declared media type, defaulting to octet-stream.
func (r *Request) ContentType() string {
	if ct := r.Headers["content-type"]; ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// HasBody reports whether any body bytes were received.
func (r *Request) HasBody() bool {
	return len(r.Body) > 0
}

func (r *Request) String() string {
	return "Request{Method=" + strconv.Quote(r.Method) + ", Path=" + strconv.Quote(r.Path) + "}"
}

// parseContentLength accepts only a plain run of decimal digits; anything
// else, including a sign or an out-of-range value, counts as 0.
func parseContentLength(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
