// Package config carries the environment parsing and fatal-exit plumbing
// shared by the vault binaries.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv populates target from WORLDVAULT_* environment variables using
// the struct's env tags. Flags layered on top of the result win.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
