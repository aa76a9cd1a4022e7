package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/server"
	"github.com/gkumurzhi/ExperimentalServer/internal/websocket"
)

// CurrentVersion is the only schema version Load accepts.
const CurrentVersion = 1

// File represents the entire configuration file.
type File struct {
	Version   int             `yaml:"version"`
	Listen    ListenConfig    `yaml:"listen"`
	Files     FilesConfig     `yaml:"files"`
	Limits    LimitsConfig    `yaml:"limits"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	TLS       TLSConfig       `yaml:"tls"`
	Auth      AuthConfig      `yaml:"auth"`
	Decoy     DecoyConfig     `yaml:"decoy"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	MDNS      MDNSConfig      `yaml:"mdns"`
}

// ListenConfig is the bound address and connection-level options.
type ListenConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ReusePort  bool   `yaml:"reuse_port"`             // SO_REUSEPORT on unix platforms
	CORSOrigin string `yaml:"cors_origin,omitempty"` // Access-Control-Allow-Origin value
}

// FilesConfig is the served directory tree.
type FilesConfig struct {
	Root    string `yaml:"root"`
	Sandbox bool   `yaml:"sandbox"` // restrict reads to uploads/, static/ and root files
}

// LimitsConfig bounds request sizes and concurrency.
type LimitsConfig struct {
	MaxUploadMB int `yaml:"max_upload_mb"`
	Workers     int `yaml:"workers"`
	StreamChunk int `yaml:"stream_chunk_bytes"`
}

// KeepAliveConfig controls persistent connections.
type KeepAliveConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRequests int           `yaml:"max_requests"`
}

// TimeoutsConfig holds the per-phase time budgets.
type TimeoutsConfig struct {
	Header       time.Duration `yaml:"header"`
	Body         time.Duration `yaml:"body"`
	Read         time.Duration `yaml:"read"`
	Write        time.Duration `yaml:"write"`
	TLSHandshake time.Duration `yaml:"tls_handshake"`
	AcceptPoll   time.Duration `yaml:"accept_poll"`
	Shutdown     time.Duration `yaml:"shutdown"`
}

// TLSConfig enables TLS. Without Cert and Key a self-signed certificate is
// generated at startup.
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert,omitempty"`
	Key     string `yaml:"key,omitempty"`
}

// AuthConfig enables HTTP Basic authentication. Credentials is
// "user:password", a bare "user" (password generated) or "random".
type AuthConfig struct {
	Credentials string `yaml:"credentials,omitempty"`
}

// DecoyConfig enables randomized method tokens.
type DecoyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig controls the notes upgrade route.
type WebSocketConfig struct {
	Path         string        `yaml:"path"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxFrameSize int64         `yaml:"max_frame_size"`
}

// LoggingConfig selects level and encoding. An empty level picks a default
// from the decoy and quiet settings.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format"` // console or json
	Quiet  bool   `yaml:"quiet"`
}

// MDNSConfig controls zeroconf advertisement of the listener.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"`
}

// Default returns a File holding the built-in defaults.
func Default() *File {
	sc := server.DefaultConfig()
	return &File{
		Version: CurrentVersion,
		Listen: ListenConfig{
			Host:       sc.Host,
			Port:       sc.Port,
			CORSOrigin: sc.CORSOrigin,
		},
		Files: FilesConfig{Root: "."},
		Limits: LimitsConfig{
			MaxUploadMB: int(sc.MaxBodySize >> 20),
			Workers:     sc.Workers,
			StreamChunk: sc.StreamChunkSize,
		},
		KeepAlive: KeepAliveConfig{
			Timeout:     sc.KeepAliveTimeout,
			MaxRequests: sc.KeepAliveMax,
		},
		Timeouts: TimeoutsConfig{
			Header:       sc.HeaderTimeout,
			Body:         sc.BodyTimeout,
			Read:         sc.ReadTimeout,
			Write:        sc.WriteTimeout,
			TLSHandshake: sc.TLSHandshakeTimeout,
			AcceptPoll:   sc.AcceptPollInterval,
			Shutdown:     sc.ShutdownTimeout,
		},
		WebSocket: WebSocketConfig{
			Path:         sc.WebSocketPath,
			IdleTimeout:  websocket.DefaultIdleTimeout,
			MaxFrameSize: websocket.DefaultMaxFrameSize,
		},
		Logging: LoggingConfig{Format: "console"},
	}
}

// Validate reports every problem in the file at once.
func (f *File) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	if f.Listen.Port < 0 || f.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port out of range: %d", f.Listen.Port))
	}
	positive("limits.max_upload_mb", int64(f.Limits.MaxUploadMB))
	positive("limits.workers", int64(f.Limits.Workers))
	positive("limits.stream_chunk_bytes", int64(f.Limits.StreamChunk))
	positive("keepalive.timeout", int64(f.KeepAlive.Timeout))
	positive("keepalive.max_requests", int64(f.KeepAlive.MaxRequests))
	positive("timeouts.header", int64(f.Timeouts.Header))
	positive("timeouts.body", int64(f.Timeouts.Body))
	positive("timeouts.read", int64(f.Timeouts.Read))
	positive("timeouts.write", int64(f.Timeouts.Write))
	positive("timeouts.tls_handshake", int64(f.Timeouts.TLSHandshake))
	positive("timeouts.accept_poll", int64(f.Timeouts.AcceptPoll))
	positive("timeouts.shutdown", int64(f.Timeouts.Shutdown))
	positive("websocket.idle_timeout", int64(f.WebSocket.IdleTimeout))
	positive("websocket.max_frame_size", f.WebSocket.MaxFrameSize)

	if (f.TLS.Cert == "") != (f.TLS.Key == "") {
		errs = append(errs, errors.New("tls.cert and tls.key must be given together"))
	}
	if f.WebSocket.Path != "" && !strings.HasPrefix(f.WebSocket.Path, "/") {
		errs = append(errs, fmt.Errorf("websocket.path must start with '/': %q", f.WebSocket.Path))
	}
	switch f.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", f.Logging.Format))
	}
	switch f.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", f.Logging.Level))
	}

	return errors.Join(errs...)
}

// LogLevel returns the effective level: the configured one, or the mode
// default (info, warn when quiet; warn, error when quiet in decoy mode).
func (f *File) LogLevel() string {
	if f.Logging.Level != "" {
		return f.Logging.Level
	}
	switch {
	case f.Decoy.Enabled && f.Logging.Quiet:
		return "error"
	case f.Decoy.Enabled || f.Logging.Quiet:
		return "warn"
	default:
		return "info"
	}
}

// ServerConfig converts the file into the connection layer's settings.
// TLS material is attached separately by the caller.
func (f *File) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Host = f.Listen.Host
	sc.Port = f.Listen.Port
	sc.ReusePort = f.Listen.ReusePort
	if f.Listen.CORSOrigin != "" {
		sc.CORSOrigin = f.Listen.CORSOrigin
	}
	sc.MaxBodySize = int64(f.Limits.MaxUploadMB) << 20
	sc.Workers = f.Limits.Workers
	sc.StreamChunkSize = f.Limits.StreamChunk
	sc.KeepAliveTimeout = f.KeepAlive.Timeout
	sc.KeepAliveMax = f.KeepAlive.MaxRequests
	sc.HeaderTimeout = f.Timeouts.Header
	sc.BodyTimeout = f.Timeouts.Body
	sc.ReadTimeout = f.Timeouts.Read
	sc.WriteTimeout = f.Timeouts.Write
	sc.TLSHandshakeTimeout = f.Timeouts.TLSHandshake
	sc.AcceptPollInterval = f.Timeouts.AcceptPoll
	sc.ShutdownTimeout = f.Timeouts.Shutdown
	sc.WebSocketPath = f.WebSocket.Path
	sc.WebSocketIdleTimeout = f.WebSocket.IdleTimeout
	sc.WebSocketMaxFrameSize = f.WebSocket.MaxFrameSize
	return sc
}
