//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package server

import (
	"net"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
)

func listenConfig(reusePort bool) net.ListenConfig {
	if reusePort {
		logging.Warn("reuse_port is not supported on this platform, ignoring")
	}
	return net.ListenConfig{}
}
