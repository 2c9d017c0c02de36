package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Storage.Driver != "postgres" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	contents := `
database:
  host: db.internal
  port: 6543
server:
  addr: ":9090"
  readtimeout: 5s
  allowedorigins:
    - https://builds.example.com
storage:
  driver: memory
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("BUILDTRACK_DATABASE_HOST", "override.internal")
	t.Setenv("BUILDTRACK_LOG_MODE", "prod")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "override.internal" {
		t.Fatalf("expected env override for host, got %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 6543 {
		t.Fatalf("expected port from file, got %d", cfg.Database.Port)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://builds.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.Driver != "memory" || cfg.Log.Mode != "prod" {
		t.Fatalf("unexpected storage/log config: %+v %+v", cfg.Storage, cfg.Log)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("BUILDTRACK_STORAGE_DRIVER", "sqlite")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
