// Package main provides the caspio-proxy binary. The serve command runs the
// HTTP proxy in front of Caspio and ManageOrders; the fetch command runs one
// paginated fetch from the terminal for debugging queries.
//
// Configuration is loaded from defaults and PROXY_* environment variables,
// validated, and only then are upstream clients built.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("execution failed", "err", err)
		os.Exit(1)
	}
}
