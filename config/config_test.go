package config

import (
	"os"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `vnflow:
  name: "TestApp"
  version: "1.0"
cleaner:
  max_workers: 2
  max_reject_ratio: 0.5
schema:
  dir: "schemas"
quality:
  sample_limit: 5
storage:
  s3:
    enabled: false
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vnflow.Name != "TestApp" {
		t.Errorf("unexpected name %q", cfg.Vnflow.Name)
	}
	if cfg.Cleaner.MaxWorkers != 2 {
		t.Errorf("unexpected max_workers %d", cfg.Cleaner.MaxWorkers)
	}
	if cfg.Cleaner.MaxRejectRatio != 0.5 {
		t.Errorf("unexpected max_reject_ratio %v", cfg.Cleaner.MaxRejectRatio)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `vnflow:
  name: "TestApp"
  version: "1.0"
schema:
  dir: "schemas"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cleaner.MaxWorkers != 1 {
		t.Errorf("expected default max_workers 1, got %d", cfg.Cleaner.MaxWorkers)
	}
	if cfg.Quality.SampleLimit != 10 {
		t.Errorf("expected default sample_limit 10, got %d", cfg.Quality.SampleLimit)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `vnflow:
  version: "1.0"
schema:
  dir: "schemas"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadConfigRejectRatioBounds(t *testing.T) {
	path := writeTempConfig(t, `vnflow:
  name: "TestApp"
  version: "1.0"
cleaner:
  max_workers: 1
  max_reject_ratio: 1.5
schema:
  dir: "schemas"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for out-of-range reject ratio")
	}
}

func TestLoadConfigS3Validation(t *testing.T) {
	path := writeTempConfig(t, `vnflow:
  name: "TestApp"
  version: "1.0"
schema:
  dir: "schemas"
storage:
  s3:
    enabled: true
    bucket: "Bad_Bucket"
    region: "ap-southeast-1"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for invalid bucket name")
	}
}
