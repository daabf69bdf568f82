package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigSeedAssignedOnce(t *testing.T) {
	path := writeConfig(t, "repository_bucket: updates\nrepository_region: us-east-1\nvariant: aws-dev\n")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Seed == nil {
		t.Fatalf("seed not assigned on first load")
	}
	if *cfg.Seed >= maxSeed {
		t.Fatalf("seed %d outside [0, %d)", *cfg.Seed, maxSeed)
	}
	first := *cfg.Seed

	// The seed must have been persisted; a second load sees the same value.
	again, err := loadConfig(path)
	if err != nil {
		t.Fatalf("second loadConfig: %v", err)
	}
	if again.Seed == nil || *again.Seed != first {
		t.Fatalf("seed changed across loads: %v vs %d", again.Seed, first)
	}
}

func TestConfigSeedOutOfRange(t *testing.T) {
	path := writeConfig(t, "seed: 5000\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("out-of-range seed accepted")
	}
}

func TestConfigVersionLock(t *testing.T) {
	path := writeConfig(t, "version_lock: \"1.2.0\"\nseed: 7\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	locked, err := cfg.LockedVersion()
	if err != nil {
		t.Fatalf("LockedVersion: %v", err)
	}
	if locked == nil || locked.String() != "1.2.0" {
		t.Fatalf("locked version = %v, want 1.2.0", locked)
	}
}

func TestConfigVersionLockDefaultsToLatest(t *testing.T) {
	path := writeConfig(t, "seed: 7\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.VersionLock != "latest" {
		t.Fatalf("version_lock = %q, want latest", cfg.VersionLock)
	}
	locked, err := cfg.LockedVersion()
	if err != nil {
		t.Fatalf("LockedVersion: %v", err)
	}
	if locked != nil {
		t.Fatalf("latest produced a pinned version %s", locked)
	}
}

func TestRunningVersionOverride(t *testing.T) {
	path := writeConfig(t, "seed: 7\nrunning_version: \"1.0.0\"\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	running, err := cfg.runningVersion()
	if err != nil {
		t.Fatalf("runningVersion: %v", err)
	}
	if running.String() != "1.0.0" {
		t.Fatalf("running version = %s, want 1.0.0", running)
	}
}
