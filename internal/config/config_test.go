package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Set only required env var
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Import.MaxFileSize != 52428800 {
		t.Errorf("Import.MaxFileSize = %d, want %d", cfg.Import.MaxFileSize, 52428800)
	}
	if cfg.Import.MaxPreviewRows != 500 {
		t.Errorf("Import.MaxPreviewRows = %d, want %d", cfg.Import.MaxPreviewRows, 500)
	}
	if cfg.Rate.RequestsPerMinute != 100 {
		t.Errorf("Rate.RequestsPerMinute = %d, want %d", cfg.Rate.RequestsPerMinute, 100)
	}
	if cfg.Profiles.Dir != "profiles" {
		t.Errorf("Profiles.Dir = %q, want %q", cfg.Profiles.Dir, "profiles")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("IMPORT_MAX_PREVIEW_ROWS", "50")
	os.Setenv("LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("IMPORT_MAX_PREVIEW_ROWS")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Import.MaxPreviewRows != 50 {
		t.Errorf("Import.MaxPreviewRows = %d, want %d", cfg.Import.MaxPreviewRows, 50)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	// Test that DB_URL works as fallback
	os.Setenv("DB_URL", "postgres://localhost/alttest")
	defer os.Unsetenv("DB_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/alttest" {
		t.Errorf("Database.URL = %q, want %q", cfg.Database.URL, "postgres://localhost/alttest")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Ensure DATABASE_URL is not set
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("DB_URL")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing DATABASE_URL")
	}
}

func TestLoad_Duration(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SERVER_READ_TIMEOUT", "45s")
	os.Setenv("IMPORT_COMMIT_TIMEOUT", "1m30s")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("SERVER_READ_TIMEOUT")
		os.Unsetenv("IMPORT_COMMIT_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want %v", cfg.Server.ReadTimeout, 45*time.Second)
	}
	if cfg.Import.CommitTimeout != 90*time.Second {
		t.Errorf("Import.CommitTimeout = %v, want %v", cfg.Import.CommitTimeout, 90*time.Second)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SERVER_PORT", "not-a-number")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("SERVER_PORT")
	}()

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for non-numeric SERVER_PORT")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("LOG_LEVEL")
	}()

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid LOG_LEVEL")
	}
}

func TestValidate_ConnBounds(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("DB_MAX_CONNS", "2")
	os.Setenv("DB_MIN_CONNS", "10")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("DB_MAX_CONNS")
		os.Unsetenv("DB_MIN_CONNS")
	}()

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when DB_MAX_CONNS < DB_MIN_CONNS")
	}
}
