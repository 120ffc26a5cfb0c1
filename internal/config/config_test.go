package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENHANCER_CONFIG", "PORT", "APP_ENV", "UPLOAD_DIR", "PROCESSED_DIR", "MAX_UPLOAD_MB",
		"MAX_CONCURRENT_RUNS", "QUEUE_SIZE", "RUN_TIMEOUT_MIN", "PROGRESS_POLL_MS",
		"REGISTRY_BACKEND", "INSTANCE_ID", "S3_ENDPOINT", "S3_BUCKET", "S3_USE_SSL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "5001" {
		t.Fatalf("port = %q, want 5001", cfg.Port)
	}
	if cfg.UploadDir != "/tmp/video_uploads" || cfg.ProcessedDir != "/tmp/video_processed" {
		t.Fatalf("unexpected dirs %q %q", cfg.UploadDir, cfg.ProcessedDir)
	}
	if cfg.MaxUploadSize != 500*1024*1024 {
		t.Fatalf("max upload = %d", cfg.MaxUploadSize)
	}
	if cfg.Registry.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Registry.Backend)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval())
	}
	if cfg.RunTimeout() != 2*time.Hour {
		t.Fatalf("run timeout = %s", cfg.RunTimeout())
	}
	if cfg.APIPrefix != "/api/video" {
		t.Fatalf("prefix = %q", cfg.APIPrefix)
	}
	if cfg.Mirror.Enabled() {
		t.Fatal("mirror should be disabled by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "enhancer.toml")
	contents := `
port = "6000"
max_concurrent_runs = 5
allowed_extensions = [".MP4", "mkv"]

[registry]
backend = "SQLite"
sqlite_path = "/var/lib/enhancer/jobs.db"
instance = "file-node"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("QUEUE_SIZE", "3")
	t.Setenv("PORT", "7000")
	t.Setenv("INSTANCE_ID", "node-2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7000" {
		t.Fatalf("env should win over file, port = %q", cfg.Port)
	}
	if cfg.MaxConcurrentRuns != 5 {
		t.Fatalf("runs = %d", cfg.MaxConcurrentRuns)
	}
	if cfg.QueueSize != 3 {
		t.Fatalf("queue size = %d", cfg.QueueSize)
	}
	if cfg.Registry.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.Registry.Backend)
	}
	if cfg.Registry.Instance != "node-2" {
		t.Fatalf("instance = %q", cfg.Registry.Instance)
	}
	if strings.Join(cfg.AllowedExtensions, ",") != "mp4,mkv" {
		t.Fatalf("extensions = %v", cfg.AllowedExtensions)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("port = %q", cfg.Port)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":     func(c *Config) { c.Registry.Backend = "etcd" },
		"runs":        func(c *Config) { c.MaxConcurrentRuns = 0 },
		"queue":       func(c *Config) { c.QueueSize = 0 },
		"scale":       func(c *Config) { c.MaxScale = 0 },
		"mirror":      func(c *Config) { c.Mirror.Endpoint = "localhost:9000" },
		"extensions":  func(c *Config) { c.AllowedExtensions = nil },
		"sqlite path": func(c *Config) { c.Registry.Backend = "sqlite"; c.Registry.SQLitePath = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.UploadDir = filepath.Join(root, "up")
	cfg.ProcessedDir = filepath.Join(root, "out")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.UploadDir, cfg.ProcessedDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
