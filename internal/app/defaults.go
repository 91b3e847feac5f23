package app

import "os"

// systemConfigPath is where a deployed installation keeps its config.
const systemConfigPath = "/etc/pgdr/pgdr.toml"

// DefaultConfigPath returns the config file location, checking the
// PGDR_CONFIG_PATH environment variable first. Scheduled jobs run with a
// minimal environment, so the fallback is a fixed system path rather
// than anything derived from $HOME.
func DefaultConfigPath() string {
	if path := os.Getenv("PGDR_CONFIG_PATH"); path != "" {
		return path
	}
	return systemConfigPath
}
