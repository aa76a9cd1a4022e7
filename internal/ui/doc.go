// Package ui renders the terminal output of exphttp that is not logging:
// the startup banner and the box shown when the server fails to start.
//
// Output is styled with Lipgloss when stdout is a terminal and falls back to
// plain text otherwise, so piping the server into a file keeps it readable.
//
// Example:
//
//	banner := ui.NewBanner("exphttp v1.0.0", "http://127.0.0.1:8080", os.Stdout).
//	    AddField("Root directory", root).
//	    AddSection("AUTH", "Basic Auth enabled")
//	fmt.Println(banner.Render())
//
// # Logging Integration
//
// Request and connection logs go through internal/logging (zap) on stderr;
// this package only writes the curated lines on stdout.
package ui
