// Package discovery advertises a running exphttp server over multicast DNS
// and finds other instances on the local network.
//
// The server registers itself as a "_http._tcp" service with these TXT
// records:
//   - path=/
//   - tls=true|false
//   - server=<Server header value>
//
// The server key is what Scan uses to tell exphttp instances apart from
// every other HTTP service on the segment.
//
// # Usage Example
//
//	ad, err := discovery.Advertise(discovery.Service{Port: 8080, Server: version.ServerString()})
//	if err != nil {
//	    return err
//	}
//	defer ad.Shutdown()
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Firewall must allow mDNS (UDP port 5353)
package discovery
