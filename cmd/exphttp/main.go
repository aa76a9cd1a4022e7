// Exphttp is an experimental HTTP/1.1 file server with custom methods.
//
// It serves a directory over GET, accepts uploads through PUT, POST, PATCH
// and NONE, and adds the FETCH, INFO, PING, NOTE and SMUGGLE methods plus a
// WebSocket route for notes. In decoy mode the custom methods are replaced by random
// tokens and the server stops identifying itself.
//
// Usage:
//
//	exphttp serve [flags]
//
// See 'exphttp serve --help' for available options.
package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkumurzhi/ExperimentalServer/internal/ui"
	"github.com/gkumurzhi/ExperimentalServer/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.NewFailure("exphttp failed", err, hintsFor(err), os.Stderr).Render())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "exphttp",
	Short: "Experimental HTTP server",
	Long: `An HTTP/1.1 server built on raw sockets with custom methods.

Serves files with GET, stores uploads with PUT/POST/PATCH/NONE, and answers
the FETCH, INFO, PING, NOTE and SMUGGLE methods. Decoy mode swaps the custom methods
for random tokens written to .decoy_methods.json in the served directory.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("exphttp %s\n", version.Full())
	},
}

// hintsFor returns troubleshooting tips for well-known startup failures.
func hintsFor(err error) []string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return []string{"Another process is bound to this address", "Pick another port with --port"}
	case errors.Is(err, syscall.EACCES):
		return []string{"Ports below 1024 usually need elevated privileges", "Pick another port with --port"}
	case errors.Is(err, os.ErrNotExist):
		return []string{"Check the --dir, --cert, --key and --config paths"}
	}
	return nil
}
