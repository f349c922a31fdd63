package main

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/marketengine/internal/config"
)

// printRedacted writes the effective configuration as TOML with secrets
// masked.
func printRedacted(cfg *config.Config) error {
	redacted := config.RedactedConfig(cfg)
	return toml.NewEncoder(os.Stdout).Encode(redacted)
}
