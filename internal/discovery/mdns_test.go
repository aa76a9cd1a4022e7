package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *zeroconf.ServiceEntry
		wantNil bool
		wantIP  string
		wantURL string
	}{
		{
			name: "plain HTTP instance",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "exphttp"},
				HostName:      "box.local.",
				Port:          8080,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/", "tls=false", "server=ExperimentalHTTPServer/1.0.0"},
			},
			wantIP:  "192.168.4.16",
			wantURL: "http://192.168.4.16:8080/",
		},
		{
			name: "TLS instance",
			entry: &zeroconf.ServiceEntry{
				HostName: "box.local.",
				Port:     8443,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
				Text:     []string{"tls=true", "server=ExperimentalHTTPServer/dev"},
			},
			wantIP:  "10.0.0.5",
			wantURL: "https://10.0.0.5:8443/",
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				Port:     8080,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
				Text:     []string{"server=ExperimentalHTTPServer/dev"},
			},
			wantIP:  "fe80::1",
			wantURL: "http://[fe80::1]:8080/",
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
				Text:     []string{"server=ExperimentalHTTPServer/dev"},
			},
			wantIP:  "192.168.1.50",
			wantURL: "http://192.168.1.50:80/",
		},
		{
			name: "other HTTP service",
			entry: &zeroconf.ServiceEntry{
				HostName: "printer.local.",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
				Text:     []string{"path=/"},
			},
			wantNil: true,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				Port: 8080,
				Text: []string{"server=ExperimentalHTTPServer/dev"},
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if inst != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", inst)
				}
				return
			}
			if inst == nil {
				t.Fatal("parseServiceEntry() = nil, want instance")
			}
			if inst.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", inst.IP, tt.wantIP)
			}
			if got := inst.URL(); got != tt.wantURL {
				t.Errorf("URL() = %v, want %v", got, tt.wantURL)
			}
			if time.Since(inst.DiscoveredAt) > time.Second {
				t.Errorf("DiscoveredAt is not recent: %v", inst.DiscoveredAt)
			}
		})
	}
}

func TestServiceTXT(t *testing.T) {
	s := Service{Port: 8443, TLS: true, Server: "ExperimentalHTTPServer/1.0.0"}
	inst := parseServiceEntry(&zeroconf.ServiceEntry{
		Port:     s.Port,
		AddrIPv4: []net.IP{net.ParseIP("127.0.0.1")},
		Text:     s.TXT(),
	})
	if inst == nil {
		t.Fatal("own TXT records not recognised")
	}
	if !inst.TLS || inst.Server != s.Server || inst.Path() != "/" {
		t.Errorf("instance = %+v", inst)
	}
}

func TestAdvertiseRequiresPort(t *testing.T) {
	if _, err := Advertise(Service{}); err == nil {
		t.Error("Advertise() without a port should fail")
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}
