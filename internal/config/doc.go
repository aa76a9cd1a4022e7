// Package config loads and saves the server's YAML configuration file.
//
// The file mirrors the command-line flags of exphttp serve: every value the
// flags accept can be set here, and a flag given on the command line wins
// over the file. Values missing from the file keep their built-in defaults.
//
// # Configuration File Location
//
// Without --config the file is read from the platform-appropriate location:
//   - Linux: $XDG_CONFIG_HOME/exphttp/config.yaml or $HOME/.config/exphttp/config.yaml
//   - macOS: $HOME/.config/exphttp/config.yaml
//   - Windows: %LOCALAPPDATA%\exphttp\config.yaml
//
// A missing file at the default location is not an error.
//
// # Security
//
// Basic-auth credentials may be stored in the file. Save writes it with mode
// 0600 inside a 0700 directory.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(cfg.ServerConfig(), resolver)
package config
