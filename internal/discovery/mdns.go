package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type exphttp advertises under
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for Scan
	DefaultScanTimeout = 5 * time.Second

	// txtServer is the TXT key that marks an exphttp instance
	txtServer = "server"
)

// Service describes the listener being advertised.
type Service struct {
	Instance string // defaults to "exphttp"
	Port     int
	TLS      bool
	Server   string // Server header value, e.g. "ExperimentalHTTPServer/1.0.0"
}

// TXT returns the TXT records published for s.
func (s Service) TXT() []string {
	return []string{
		"path=/",
		"tls=" + fmt.Sprint(s.TLS),
		txtServer + "=" + s.Server,
	}
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise publishes s on all multicast interfaces until Shutdown.
func Advertise(s Service) (*Advertisement, error) {
	if s.Port <= 0 {
		return nil, errors.New("discovery: a bound port is required")
	}
	if s.Instance == "" {
		s.Instance = "exphttp"
	}
	srv, err := zeroconf.Register(s.Instance, ServiceType, ServiceDomain, s.Port, s.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: srv}, nil
}

// Shutdown sends goodbye packets and stops answering queries. It is safe to
// call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(a.server.Shutdown)
}

// Scanner finds other exphttp instances on the local network
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses for ServiceType until the timeout or ctx ends and returns
// the exphttp instances that answered.
func (s *Scanner) Scan(ctx context.Context) ([]*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu        sync.Mutex
		instances []*Instance
		seen      = make(map[string]bool)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				inst := parseServiceEntry(entry)
				if inst == nil {
					continue
				}
				mu.Lock()
				if key := inst.URL(); !seen[key] {
					seen[key] = true
					instances = append(instances, inst)
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return instances, nil
}

// parseServiceEntry converts a zeroconf service entry to an Instance.
// Returns nil if the entry is not an exphttp server.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Instance {
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	server := metadata[txtServer]
	if server == "" {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	return &Instance{
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		TLS:          metadata["tls"] == "true",
		Server:       server,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
