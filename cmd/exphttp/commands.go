package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gkumurzhi/ExperimentalServer/internal/config"
	"github.com/gkumurzhi/ExperimentalServer/internal/discovery"
)

// Config command flags
var (
	configOut   string
	configForce bool
	scanTimeout int
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(discoverCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

// configInitCmd writes a config file holding the defaults
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Example: `  # Write the default location
  exphttp config init

  # Write somewhere else, replacing an existing file
  exphttp config init --output ./exphttp.yaml --force`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&configOut, "output", "", "Destination path (default: OS config dir)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configOut
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the default config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

// discoverCmd lists exphttp servers advertising over mDNS
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find exphttp servers on the local network",
	Long: `Browse mDNS for servers started with --mdns.

Only services whose TXT records identify an exphttp server are listed.`,
	Example: `  # Browse for 5 seconds (default)
  exphttp discover

  # Longer scan for busy networks
  exphttp discover --timeout 15`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Scan timeout in seconds")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning for exphttp servers (timeout: %ds)...\n\n", scanTimeout)

	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(scanTimeout) * time.Second
	instances, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(instances) == 0 {
		fmt.Fprintln(out, "No servers found.")
		fmt.Fprintln(out, "\nTroubleshooting:")
		fmt.Fprintln(out, "  - Start the server with --mdns")
		fmt.Fprintln(out, "  - Check that UDP port 5353 is not blocked")
		fmt.Fprintln(out, "  - Try increasing --timeout")
		return nil
	}

	for _, inst := range instances {
		fmt.Fprintf(out, "  %-24s %-32s %s\n", inst.Name, inst.URL(), inst.Server)
	}
	return nil
}
