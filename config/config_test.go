package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProcessConfigDefaults(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		cfg := Config{}
		processConfigDefaults(&cfg)

		if cfg.MinecraftLoader != "fabric" {
			t.Errorf("Expected MinecraftLoader to be fabric, got %s", cfg.MinecraftLoader)
		}
		if cfg.MinecraftInstallationType != "server" {
			t.Errorf("Expected MinecraftInstallationType to be server, got %s", cfg.MinecraftInstallationType)
		}
		if cfg.UserAgent == "" {
			t.Error("Expected UserAgent to have a default value")
		}
		if cfg.WatchIntervalHours != 24 {
			t.Errorf("Expected WatchIntervalHours to be 24, got %d", cfg.WatchIntervalHours)
		}
		if cfg.DownloadTimeout() != 60*time.Second {
			t.Errorf("Expected a 60s download timeout, got %s", cfg.DownloadTimeout())
		}
		if cfg.UpdateConcurrency != 4 {
			t.Errorf("Expected UpdateConcurrency to be 4, got %d", cfg.UpdateConcurrency)
		}
	})

	t.Run("respects existing values", func(t *testing.T) {
		cfg := Config{
			MinecraftLoader:           "forge",
			MinecraftInstallationType: "client",
			UserAgent:                 "custom-agent",
			WatchIntervalHours:        12,
		}
		processConfigDefaults(&cfg)

		if cfg.MinecraftLoader != "forge" {
			t.Errorf("Expected MinecraftLoader to stay forge, got %s", cfg.MinecraftLoader)
		}
		if cfg.MinecraftInstallationType != "client" {
			t.Errorf("Expected MinecraftInstallationType to stay client, got %s", cfg.MinecraftInstallationType)
		}
		if cfg.UserAgent != "custom-agent" {
			t.Errorf("Expected UserAgent to stay custom-agent, got %s", cfg.UserAgent)
		}
		if cfg.WatchInterval() != 12*time.Hour {
			t.Errorf("Expected a 12h watch interval, got %s", cfg.WatchInterval())
		}
	})
}

func TestValidateAndEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("missing minecraft dir", func(t *testing.T) {
		cfg := Config{MinecraftDir: ""}
		processConfigDefaults(&cfg)
		err := validateAndEnsureDirectories(&cfg)
		if err == nil {
			t.Error("Expected error for missing MinecraftDir")
		}
	})

	t.Run("rejects unsupported interval", func(t *testing.T) {
		cfg := Config{MinecraftDir: filepath.Join(tmpDir, "interval"), WatchIntervalHours: 6}
		processConfigDefaults(&cfg)
		if err := validateAndEnsureDirectories(&cfg); err == nil {
			t.Error("Expected error for a 6h interval")
		}
	})

	t.Run("rejects unknown installation type", func(t *testing.T) {
		cfg := Config{MinecraftDir: filepath.Join(tmpDir, "type"), MinecraftInstallationType: "toaster"}
		processConfigDefaults(&cfg)
		if err := validateAndEnsureDirectories(&cfg); err == nil {
			t.Error("Expected error for an unknown installation type")
		}
	})

	t.Run("creates directories", func(t *testing.T) {
		mcDir := filepath.Join(tmpDir, "mc")
		cfg := Config{MinecraftDir: mcDir}
		processConfigDefaults(&cfg)
		err := validateAndEnsureDirectories(&cfg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		subDirs := []string{"mods", "shaderpacks", "resourcepacks", ".modkeeper"}
		for _, sub := range subDirs {
			path := filepath.Join(mcDir, sub)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				t.Errorf("Directory %s was not created", sub)
			}
		}
		if cfg.DatabasePath != filepath.Join(mcDir, ".modkeeper", "modkeeper.db") {
			t.Errorf("Unexpected DatabasePath %s", cfg.DatabasePath)
		}
		if cfg.ModsDir() != filepath.Join(mcDir, "mods") {
			t.Errorf("Unexpected ModsDir %s", cfg.ModsDir())
		}
	})
}

func TestLoadConfigFromEnv(t *testing.T) {
	mcDir := filepath.Join(t.TempDir(), "server")
	t.Setenv("MINECRAFT_DIR", mcDir)
	t.Setenv("MINECRAFT_VERSION", "1.20.1")
	t.Setenv("UPDATE_CONCURRENCY", "8")
	t.Setenv("WATCH_INCOMPATIBLE", "false")
	t.Setenv("STABLE_ONLY", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.MinecraftDir != mcDir {
		t.Errorf("Expected MinecraftDir %s, got %s", mcDir, cfg.MinecraftDir)
	}
	if cfg.UpdateConcurrency != 8 {
		t.Errorf("Expected UpdateConcurrency 8, got %d", cfg.UpdateConcurrency)
	}
	if cfg.WatchIncompatible {
		t.Error("Expected WatchIncompatible to be false")
	}
	if !cfg.StableOnly {
		t.Error("Expected StableOnly to be true")
	}
	if err := cfg.RequireGameVersion(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadConfigFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MINECRAFT_DIR", "")
	mcDir := filepath.Join(dir, "client")
	content := "MINECRAFT_DIR=" + mcDir + "\nMINECRAFT_LOADER=quilt\nMINECRAFT_INSTALLATION_TYPE=client\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.MinecraftLoader != "quilt" {
		t.Errorf("Expected loader quilt, got %s", cfg.MinecraftLoader)
	}
	if !cfg.WatchIncompatible {
		t.Error("Expected WatchIncompatible to default to true")
	}
	if err := cfg.RequireGameVersion(); err == nil {
		t.Error("Expected an error without MINECRAFT_VERSION")
	}
}
