package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "instance/nurse_records.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.ExportDir != "exports" {
		t.Errorf("ExportDir = %q", cfg.ExportDir)
	}
	if cfg.OTLPEndpoint != "" {
		t.Errorf("OTLPEndpoint = %q, want empty (tracing off by default)", cfg.OTLPEndpoint)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/clinic.db")
	t.Setenv("TRACE_SAMPLE", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.DBPath != "/tmp/clinic.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.TraceSample != 0.25 {
		t.Errorf("TraceSample = %v, want 0.25", cfg.TraceSample)
	}
}
