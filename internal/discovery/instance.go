package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Instance is an exphttp server found on the network.
type Instance struct {
	// Name is the mDNS instance name (e.g., "exphttp on build-box")
	Name string

	// Hostname is the mDNS hostname (e.g., "build-box.local.")
	Hostname string

	// IP is the advertised address, IPv4 preferred
	IP string

	Port int
	TLS  bool

	// Server is the Server header value the instance reports
	Server string

	// Metadata contains all TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the instance was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the instance
func (i *Instance) String() string {
	return fmt.Sprintf("%s (%s) at %s", i.Name, i.Server, i.URL())
}

// URL returns the base URL for the instance
func (i *Instance) URL() string {
	scheme := "http"
	if i.TLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(i.IP, strconv.Itoa(i.Port)) + i.Path()
}

// Path returns the advertised root path, "/" when absent.
func (i *Instance) Path() string {
	if p := i.Metadata["path"]; p != "" {
		return p
	}
	return "/"
}
