package server

import (
	"strings"

	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// ShouldKeepAlive decides, before dispatch, whether the connection may serve
// another request after this one. Decoy mode always closes. Otherwise an
// explicit "close" wins, HTTP/1.1 defaults to keep-alive and older versions
// keep the connection only when the client asks for it.
func ShouldKeepAlive(req *wire.Request, decoy bool) bool {
	if decoy {
		return false
	}
	connection := req.Header("Connection")
	if hasToken(connection, "close") {
		return false
	}
	if req.Version == "HTTP/1.1" {
		return true
	}
	return hasToken(connection, "keep-alive")
}

// keepAliveRemaining returns how many more requests the connection may carry
// after the served-th one, and whether keep-alive survives that budget.
func keepAliveRemaining(wanted bool, served, limit int) (int, bool) {
	remaining := limit - served
	if remaining < 0 {
		remaining = 0
	}
	return remaining, wanted && remaining > 0
}

func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
