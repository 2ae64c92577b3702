package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Storage.Backend != BackendPebble {
		t.Errorf("backend = %q, want pebble", cfg.Storage.Backend)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("http addr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("data dir not defaulted")
	}
	if cfg.Worker.Concurrency != 4 || cfg.Worker.LockMs != 30_000 {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forq.json")
	body := `{
		"server": {"httpAddr": ":9999"},
		"storage": {"backend": "redis"},
		"redis": {"addr": "redis.internal:6379"},
		"worker": {"concurrency": 8, "lockMs": 5000}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("http addr = %q, want :9999", cfg.Server.HTTPAddr)
	}
	if cfg.Storage.Backend != BackendRedis || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("backend = %q addr = %q", cfg.Storage.Backend, cfg.Redis.Addr)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
	// Fields absent from the file keep defaults.
	if cfg.Worker.PollMs != 250 {
		t.Errorf("pollMs = %d, want default 250", cfg.Worker.PollMs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forq.json")
	if err := os.WriteFile(path, []byte(`{"server": {"httpAddr": ":9999"}}`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("FORQ_HTTP_ADDR", ":7777")
	t.Setenv("FORQ_WORKER_CONCURRENCY", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7777" {
		t.Errorf("http addr = %q, env should win over file", cfg.Server.HTTPAddr)
	}
	if cfg.Worker.Concurrency != 16 {
		t.Errorf("concurrency = %d, want 16 from env", cfg.Worker.Concurrency)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"bad fsync", func(c *Config) { c.Storage.Fsync = "sometimes" }},
		{"redis without addr", func(c *Config) { c.Storage.Backend = BackendRedis; c.Redis.Addr = "" }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"tiny lock", func(c *Config) { c.Worker.LockMs = 10 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("validation accepted %s", tc.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing config file accepted")
	}
}
