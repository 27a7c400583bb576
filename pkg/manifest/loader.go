package manifest

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const logPrefix = "manifest:loader"

// EnvFile names the environment variable consulted for a manifest path.
const EnvFile = "RESOURCE_MANIFEST_FILE"

// DefaultPaths are tried after explicit paths and EnvFile.
var DefaultPaths = []string{"config/manifest.yaml", "manifest.yaml"}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s - invalid manifest: %w", logPrefix, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load tries the given paths, then EnvFile, then DefaultPaths, and returns the
// first manifest that reads and parses. Unreadable or invalid files are skipped.
// When none is found the built-in fallback is parsed.
func Load(fallback []byte, paths ...string) (*Manifest, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths)+1)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		m, err := Parse(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse manifest %s: %v", logPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s", logPrefix, p))
		return m, nil
	}

	slog.Info(fmt.Sprintf("%s - Using built-in manifest", logPrefix))
	return Parse(fallback)
}
