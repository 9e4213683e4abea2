// Package config locates on-disk configuration for an agent: TLS
// material and ACL model/policy files.
package config

import (
	"os"
	"path/filepath"
)

// configFile resolves filename against CONFIG_DIR when set (the test
// suite points this at the repo's test/ fixtures) or against
// ~/.clog otherwise.
func configFile(filename string) string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, filename)
	}

	homeDir, err := os.UserHomeDir()

	if err != nil {
		panic(err)
	}

	return filepath.Join(homeDir, ".clog", filename)
}
