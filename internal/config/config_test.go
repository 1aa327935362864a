// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 6969 {
		t.Errorf("Port = %d, want 6969", cfg.Port)
	}
	if cfg.DatabaseShards <= 0 {
		t.Errorf("DatabaseShards = %d, want > 0", cfg.DatabaseShards)
	}
	if cfg.LogFileSize != 5*1024*1024 {
		t.Errorf("LogFileSize = %d, want 5MiB", cfg.LogFileSize)
	}
	if cfg.LogRotationInterval != 30*time.Minute {
		t.Errorf("LogRotationInterval = %v, want 30m", cfg.LogRotationInterval)
	}
	if cfg.MergeInterval != 30*time.Minute {
		t.Errorf("MergeInterval = %v, want 30m", cfg.MergeInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ArchiveBackend != "none" {
		t.Errorf("ArchiveBackend = %q, want none", cfg.ArchiveBackend)
	}
	if cfg.StorageDirectory == "" {
		t.Error("StorageDirectory is empty")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "beetle.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	body := `# beetle config
port 7000

storage_directory /var/lib/beetle
database_shards 16
log_file_size 64MB
log_rotation_interval 10m
merge_interval 1h
log_level warning
archive_backend s3
archive_bucket beetle-hints
archive_prefix prod
archive_region us-east-1
archive_endpoint https://s3.example.com
`
	path := writeConfig(t, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.StorageDirectory != "/var/lib/beetle" {
		t.Errorf("StorageDirectory = %q", cfg.StorageDirectory)
	}
	if cfg.DatabaseShards != 16 {
		t.Errorf("DatabaseShards = %d, want 16", cfg.DatabaseShards)
	}
	if cfg.LogFileSize != 64*1024*1024 {
		t.Errorf("LogFileSize = %d, want 64MiB", cfg.LogFileSize)
	}
	if cfg.LogRotationInterval != 10*time.Minute {
		t.Errorf("LogRotationInterval = %v, want 10m", cfg.LogRotationInterval)
	}
	if cfg.MergeInterval != time.Hour {
		t.Errorf("MergeInterval = %v, want 1h", cfg.MergeInterval)
	}
	if cfg.LogLevel != "warning" {
		t.Errorf("LogLevel = %q, want warning", cfg.LogLevel)
	}
	if cfg.ArchiveBackend != "s3" {
		t.Errorf("ArchiveBackend = %q, want s3", cfg.ArchiveBackend)
	}
	if cfg.ArchiveBucket != "beetle-hints" {
		t.Errorf("ArchiveBucket = %q", cfg.ArchiveBucket)
	}
	if cfg.ArchivePrefix != "prod" {
		t.Errorf("ArchivePrefix = %q", cfg.ArchivePrefix)
	}
	if cfg.ArchiveRegion != "us-east-1" {
		t.Errorf("ArchiveRegion = %q", cfg.ArchiveRegion)
	}
	if cfg.ArchiveEndpoint != "https://s3.example.com" {
		t.Errorf("ArchiveEndpoint = %q", cfg.ArchiveEndpoint)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, "port 7001\nsome_future_key 123\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, want 7001", cfg.Port)
	}
}

func TestLoadBareIntervalIsMilliseconds(t *testing.T) {
	path := writeConfig(t, "merge_interval 5000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MergeInterval != 5000*time.Millisecond {
		t.Errorf("MergeInterval = %v, want 5s", cfg.MergeInterval)
	}
}

func TestLoadRejectsMalformedPort(t *testing.T) {
	path := writeConfig(t, "port not-a-number\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed port")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfig(t, "merge_interval soon\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseIntervalLiteral(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"500", 500 * time.Millisecond},
	}
	for _, c := range cases {
		got, err := parseIntervalLiteral(c.in)
		if err != nil {
			t.Errorf("parseIntervalLiteral(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseIntervalLiteral(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
