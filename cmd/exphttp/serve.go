package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gkumurzhi/ExperimentalServer/internal/auth"
	"github.com/gkumurzhi/ExperimentalServer/internal/config"
	"github.com/gkumurzhi/ExperimentalServer/internal/discovery"
	"github.com/gkumurzhi/ExperimentalServer/internal/dispatch"
	"github.com/gkumurzhi/ExperimentalServer/internal/handlers"
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/server"
	"github.com/gkumurzhi/ExperimentalServer/internal/ui"
	"github.com/gkumurzhi/ExperimentalServer/internal/version"
)

// Serve command flags
var (
	configPath string
	host       string
	port       int
	rootDir    string
	decoyMode  bool
	sandbox    bool
	quiet      bool
	debug      bool
	jsonLog    bool
	logLevel   string
	corsOrigin string
	maxSizeMB  int
	workers    int
	tlsEnabled bool
	certPath   string
	keyPath    string
	authCreds  string
	mdns       bool
	reusePort  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start serving a directory.

Settings come from the config file (see 'exphttp config init'); flags given
on the command line override it. With --tls and no --cert/--key an in-memory
self-signed certificate is generated.`,
	Example: `  # Serve the current directory on 127.0.0.1:8080
  exphttp serve

  # Serve ./public on all interfaces with HTTPS and a generated password
  exphttp serve -H 0.0.0.0 -d ./public --tls --auth admin

  # Decoy mode with random credentials, advertised over mDNS
  exphttp serve --decoy --auth random --mdns

  # Use your own certificate
  exphttp serve --cert fullchain.pem --key privkey.pem`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to config file (default: OS config dir)")
	f.StringVarP(&host, "host", "H", "127.0.0.1", "Bind host")
	f.IntVarP(&port, "port", "p", 8080, "Listen port")
	f.StringVarP(&rootDir, "dir", "d", ".", "Root directory")
	f.BoolVarP(&decoyMode, "decoy", "o", false, "Decoy mode (random method tokens, no server identity)")
	f.BoolVarP(&sandbox, "sandbox", "s", false, "Sandbox mode (restrict reads to uploads/, static/ and root files)")
	f.BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (minimal logging)")
	f.BoolVar(&debug, "debug", false, "Debug logging")
	f.BoolVar(&jsonLog, "json-log", false, "Structured JSON log format")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&corsOrigin, "cors-origin", "*", "Access-Control-Allow-Origin value")
	f.IntVarP(&maxSizeMB, "max-size", "m", 100, "Max upload size in MB")
	f.IntVarP(&workers, "workers", "w", 10, "Number of worker goroutines")
	f.BoolVar(&tlsEnabled, "tls", false, "Enable HTTPS (self-signed certificate unless --cert/--key)")
	f.StringVar(&certPath, "cert", "", "Path to certificate file (PEM)")
	f.StringVar(&keyPath, "key", "", "Path to private key file (PEM)")
	f.StringVar(&authCreds, "auth", "", "Basic Auth: 'user:pass', 'user' (random password) or 'random'")
	f.BoolVar(&mdns, "mdns", false, "Advertise the server over mDNS")
	f.BoolVar(&reusePort, "reuse-port", false, "Set SO_REUSEPORT on the listener")

	rootCmd.AddCommand(serveCmd)
}

// applyFlags copies explicitly set flags over the loaded file.
func applyFlags(cmd *cobra.Command, f *config.File) {
	changed := cmd.Flags().Changed
	if changed("host") {
		f.Listen.Host = host
	}
	if changed("port") {
		f.Listen.Port = port
	}
	if changed("reuse-port") {
		f.Listen.ReusePort = reusePort
	}
	if changed("cors-origin") {
		f.Listen.CORSOrigin = corsOrigin
	}
	if changed("dir") {
		f.Files.Root = rootDir
	}
	if changed("sandbox") {
		f.Files.Sandbox = sandbox
	}
	if changed("max-size") {
		f.Limits.MaxUploadMB = maxSizeMB
	}
	if changed("workers") {
		f.Limits.Workers = workers
	}
	if changed("tls") {
		f.TLS.Enabled = tlsEnabled
	}
	if changed("cert") {
		f.TLS.Cert = certPath
	}
	if changed("key") {
		f.TLS.Key = keyPath
	}
	if f.TLS.Cert != "" {
		f.TLS.Enabled = true
	}
	if changed("auth") {
		f.Auth.Credentials = authCreds
	}
	if changed("decoy") {
		f.Decoy.Enabled = decoyMode
	}
	if changed("mdns") {
		f.MDNS.Enabled = mdns
	}
	if changed("quiet") {
		f.Logging.Quiet = quiet
	}
	if changed("json-log") && jsonLog {
		f.Logging.Format = logging.FormatJSON
	}
	if changed("log-level") {
		f.Logging.Level = logLevel
	}
	if debug {
		f.Logging.Level = "debug"
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.LogLevel(), cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	metrics := server.NewMetrics()
	h, err := handlers.New(handlers.Config{
		Root:    cfg.Files.Root,
		Sandbox: cfg.Files.Sandbox,
		Decoy:   cfg.Decoy.Enabled,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	var decoy *dispatch.DecoyTable
	if cfg.Decoy.Enabled {
		if decoy, err = newDecoyTable(h); err != nil {
			return err
		}
	}
	resolver := h.Resolver(decoy)

	sc := cfg.ServerConfig()
	certInfo, err := configureTLS(cfg, sc)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithMetrics(metrics),
		server.WithWebSocketHandler(handlers.NotesSocket{Store: h.Notes()}),
	}
	var generated []string
	if cfg.Auth.Credentials != "" {
		guard, lines, err := newGuard(cfg.Auth.Credentials)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAuthorizer(guard))
		generated = lines
	}

	srv, err := server.New(sc, resolver, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := srv.Listen(ctx)
	if err != nil {
		return err
	}
	boundPort := cfg.Listen.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		boundPort = addr.Port
	}

	if cfg.MDNS.Enabled {
		ad, err := discovery.Advertise(discovery.Service{
			Instance: cfg.MDNS.Instance,
			Port:     boundPort,
			TLS:      sc.TLS != nil,
			Server:   version.ServerString(),
		})
		if err != nil {
			// Serving still works without advertisement.
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer ad.Shutdown()
		}
	}

	banner := buildBanner(cfg, h.Root(), resolver, decoy, certInfo, generated, boundPort, sc.TLS != nil)
	banner.Width = ui.GetTerminalWidth(os.Stdout)
	banner.Plain = !ui.IsTerminal(os.Stdout)
	fmt.Println(banner.Render())

	return srv.Serve(ctx, ln)
}

// newDecoyTable generates tokens that avoid every registered method and
// writes them next to the served files.
func newDecoyTable(h *handlers.Handlers) (*dispatch.DecoyTable, error) {
	reserved := h.Resolver(nil).Table.Methods()
	decoy, err := dispatch.GenerateDecoyTable(dispatch.DefaultGenerator(), reserved)
	if err != nil {
		return nil, fmt.Errorf("failed to generate decoy methods: %w", err)
	}
	if err := decoy.WriteFile(filepath.Join(h.Root(), dispatch.DecoyFileName)); err != nil {
		return nil, fmt.Errorf("failed to save decoy methods: %w", err)
	}
	return decoy, nil
}

// configureTLS attaches TLS to sc when enabled and describes the
// certificate for the banner.
func configureTLS(cfg *config.File, sc *server.Config) (string, error) {
	if !cfg.TLS.Enabled {
		return "", nil
	}

	var (
		tlsConfig *tls.Config
		err       error
		info      string
	)
	if cfg.TLS.Cert != "" {
		tlsConfig, err = server.NewTLSConfig(cfg.TLS.Cert, cfg.TLS.Key)
		info = cfg.TLS.Cert
	} else {
		var cert *server.ServerCert
		cert, err = server.GenerateSelfSigned(server.DefaultCertParams(cfg.Listen.Host))
		if err != nil {
			return "", fmt.Errorf("failed to generate certificate: %w", err)
		}
		tlsConfig, err = server.NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
		info = "self-signed (" + cert.Certificate.Subject.CommonName + ")"
	}
	if err != nil {
		return "", err
	}
	sc.TLS = tlsConfig
	return info, nil
}

// newGuard builds the authorizer for creds ("user:pass", "user" or
// "random"). Generated secrets are returned as banner lines.
func newGuard(creds string) (*auth.Guard, []string, error) {
	user, password, lines, err := parseCredentials(creds)
	if err != nil {
		return nil, nil, err
	}
	authn, err := auth.NewBasicAuthenticator(map[string]string{user: password})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up authentication: %w", err)
	}
	return &auth.Guard{
		Authenticator: authn,
		Limiter:       auth.NewRateLimiter(0, 0),
	}, lines, nil
}

func parseCredentials(creds string) (user, password string, generated []string, err error) {
	switch {
	case creds == "random":
		user, password, err = auth.GenerateCredentials()
		if err != nil {
			return "", "", nil, err
		}
		return user, password, []string{"Username: " + user, "Password: " + password}, nil
	case strings.Contains(creds, ":"):
		user, password, _ = strings.Cut(creds, ":")
		if user == "" {
			return "", "", nil, errors.New("auth user must not be empty")
		}
		return user, password, nil, nil
	default:
		password, err = auth.GeneratePassword()
		if err != nil {
			return "", "", nil, err
		}
		return creds, password, []string{fmt.Sprintf("Generated password for '%s': %s", creds, password)}, nil
	}
}

func buildBanner(cfg *config.File, root string, resolver *dispatch.Resolver, decoy *dispatch.DecoyTable,
	certInfo string, credentials []string, boundPort int, useTLS bool) *ui.Banner {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	url := scheme + "://" + net.JoinHostPort(cfg.Listen.Host, fmt.Sprint(boundPort))

	b := &ui.Banner{
		Title:  "exphttp " + version.Version,
		URL:    url,
		Footer: "Ctrl+C to stop",
	}
	b.AddField("Root directory", root).
		AddField("Max upload", fmt.Sprintf("%d MB", cfg.Limits.MaxUploadMB)).
		AddField("Methods", resolver.Table.MethodList())

	if certInfo != "" {
		b.AddSection("TLS", "certificate: "+certInfo)
	}
	if cfg.Auth.Credentials != "" {
		b.AddSection("AUTH", append([]string{"Basic Auth enabled"}, credentials...)...)
	}
	if cfg.Files.Sandbox {
		b.AddSection("SANDBOX", "access restricted to uploads/, static/ and root files")
	}
	if decoy != nil {
		lines := []string{"randomized methods -> " + dispatch.DecoyFileName}
		names := decoy.Names()
		ops := make([]string, 0, len(names))
		for op := range names {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			lines = append(lines, op+": "+names[op])
		}
		b.AddSection("DECOY", lines...)
	}
	if cfg.MDNS.Enabled {
		b.AddSection("MDNS", "advertising "+discovery.ServiceType)
	}
	return b
}
