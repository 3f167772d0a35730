//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Windows, only os.Interrupt (Ctrl+C / CTRL_C_EVENT) is reliably delivered.
// SIGTERM does not exist on Windows.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// isInterrupt reports whether sig is the interactive interrupt, which
// maps to exit code 130 by shell convention.
func isInterrupt(sig os.Signal) bool {
	return sig == os.Interrupt
}
