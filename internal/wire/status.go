package wire

var statusText = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

// StatusText returns the reason phrase for code, or "Unknown".
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// ErrorResponse builds the JSON error body used across the server:
// {"error": message, "status": code}.
func ErrorResponse(code int, message string) *Response {
	resp := NewResponse(code)
	if err := resp.SetJSON(errorBody{Error: message, Status: code}); err != nil {
		resp.SetText(message, "text/plain; charset=utf-8")
	}
	return resp
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}
