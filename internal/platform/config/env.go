// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every variable read by lifecycle binaries.
const EnvPrefix = "LIFECYCLE_"

// ParseEnv loads configuration from environment variables.
//
// Struct tags name variables without the shared prefix; ParseEnv adds
// EnvPrefix so binaries never collide with unrelated process settings.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
