package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal error on stderr and terminates with exit code 1.
// The vault binary funnels unrecoverable startup errors through it.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
