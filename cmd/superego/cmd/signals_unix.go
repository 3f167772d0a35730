//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Unix: SIGINT (Ctrl+C) and SIGTERM (kill).
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// isInterrupt reports whether sig is the interactive interrupt, which
// maps to exit code 130 by shell convention.
func isInterrupt(sig os.Signal) bool {
	return sig == syscall.SIGINT
}
