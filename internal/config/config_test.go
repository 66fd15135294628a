package config

import "testing"

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chapterreel_test")
	t.Setenv("STORAGE_URL", "http://localhost:54321")
	t.Setenv("STORAGE_SERVICE_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.APIPort != "8080" {
		t.Errorf("default port = %s", cfg.APIPort)
	}
	if cfg.MaxConcurrent != 3 {
		t.Errorf("default concurrency = %d, want 3", cfg.MaxConcurrent)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("default retries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.FailureTolerance != 1.0 {
		t.Errorf("default tolerance = %v, want 1.0", cfg.FailureTolerance)
	}
	if !cfg.WorkerEnabled {
		t.Error("worker should default to enabled")
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_URL", "http://localhost:54321")
	t.Setenv("STORAGE_SERVICE_KEY", "test-key")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadRejectsBadConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENT_RENDERS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestLoadRejectsBadTolerance(t *testing.T) {
	setRequired(t)
	t.Setenv("FAILURE_TOLERANCE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for tolerance above 1")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENT_RENDERS", "5")
	t.Setenv("COMPOSE_TIMEOUT_SECONDS", "120")
	t.Setenv("FAILURE_TOLERANCE", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MaxConcurrent != 5 || cfg.ComposeTimeoutS != 120 || cfg.FailureTolerance != 0.25 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}
