package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/juju/version/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "/etc/flipd/config.yaml"
	osReleasePath     = "/etc/os-release"
)

// Config is the host's updater configuration. The rollout seed is assigned
// lazily on first load and persisted; thereafter it is immutable host
// identity.
type Config struct {
	RepositoryBucket string  `yaml:"repository_bucket"`
	RepositoryRegion string  `yaml:"repository_region"`
	RepositoryPrefix string  `yaml:"repository_prefix"`
	Variant          string  `yaml:"variant"`
	VersionLock      string  `yaml:"version_lock"`
	Seed             *uint32 `yaml:"seed,omitempty"`
	// RunningVersion overrides the os-release version, mainly for tests.
	RunningVersion string `yaml:"running_version,omitempty"`

	path string
}

// loadConfig reads the config file, applies defaults, and assigns and
// persists a rollout seed if the host does not have one yet.
func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Config{path: path}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.VersionLock == "" {
		cfg.VersionLock = "latest"
	}
	if cfg.Seed == nil {
		seed := uint32(rand.Intn(maxSeed))
		cfg.Seed = &seed
		if err := cfg.save(); err != nil {
			return nil, fmt.Errorf("failed to persist rollout seed: %w", err)
		}
	} else if *cfg.Seed >= maxSeed {
		return nil, fmt.Errorf("config seed %d is outside [0, %d)", *cfg.Seed, maxSeed)
	}
	return &cfg, nil
}

func (c *Config) save() error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace config %s: %w", c.path, err)
	}
	return nil
}

// LockedVersion returns the pinned target version, or nil when the host
// follows latest.
func (c *Config) LockedVersion() (*version.Number, error) {
	if c.VersionLock == "" || c.VersionLock == "latest" {
		return nil, nil
	}
	v, err := version.Parse(strings.TrimPrefix(c.VersionLock, "v"))
	if err != nil {
		return nil, fmt.Errorf("bad version_lock %q: %w", c.VersionLock, err)
	}
	return &v, nil
}

// Arch returns the manifest architecture name for this host.
func (c *Config) Arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// runningVersion resolves the OS version this host is currently booted into,
// from the config override or os-release.
func (c *Config) runningVersion() (version.Number, error) {
	if c.RunningVersion != "" {
		return version.Parse(strings.TrimPrefix(c.RunningVersion, "v"))
	}
	raw, err := os.ReadFile(osReleasePath)
	if err != nil {
		return version.Number{}, fmt.Errorf("failed to read %s: %w", osReleasePath, err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "VERSION_ID" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		return version.Parse(strings.TrimPrefix(value, "v"))
	}
	return version.Number{}, fmt.Errorf("no VERSION_ID in %s", osReleasePath)
}

// ensureDir creates a directory and parents if missing.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

// atomicWriteFile writes data next to path and renames it into place so
// readers never observe a partial file.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
