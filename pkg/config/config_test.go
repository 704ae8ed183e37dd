package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

// clearLegacyEnv neutralizes edge runtime variables set on the host.
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"AWS_IOT_THING_NAME", "BUCKETNAME", "THREADCOUNT", "SCP_PORT",
		"STORAGE_THROTTLE", "STORAGE_OOR", "S3_TRANSFER_ACCELERATION",
		"AWS_REGION", "REGION_NAME", "LOGLEVEL", "AWS_ACCESS_KEY", "AWS_SECRET_KEY",
	} {
		t.Setenv(name, "")
	}
}

func writeMinimalConfig(t *testing.T, extra string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

edge:
  id: edge-1
  workdir: "` + yamlSafePath(tmpDir) + `/work"

blob:
  type: fs
  fs:
    root: "` + yamlSafePath(tmpDir) + `/blobs"
    create_dir: true

queue:
  type: memory
` + extra
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	clearLegacyEnv(t)
	cfg, err := Load(writeMinimalConfig(t, ""))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Edge.AETitle != "EDGEDEVICE" {
		t.Errorf("Expected default AE title EDGEDEVICE, got %q", cfg.Edge.AETitle)
	}
	if cfg.Edge.MaxAssociations != 100 {
		t.Errorf("Expected default max associations 100, got %d", cfg.Edge.MaxAssociations)
	}
	if cfg.Storage.ThrottleMB != 1000 || cfg.Storage.OutOfResourceMB != 100 {
		t.Errorf("Expected thresholds 1000/100 MB, got %d/%d", cfg.Storage.ThrottleMB, cfg.Storage.OutOfResourceMB)
	}
	if cfg.Orchestrator.UploadBatchSize != 1000 {
		t.Errorf("Expected upload batch 1000, got %d", cfg.Orchestrator.UploadBatchSize)
	}
	if cfg.DIMSE.Port != 11112 {
		t.Errorf("Expected listen port 11112, got %d", cfg.DIMSE.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("AWS_IOT_THING_NAME", "thing-7")
	t.Setenv("BUCKETNAME", "images")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg.Edge.ID != "thing-7" {
		t.Errorf("Expected edge id from AWS_IOT_THING_NAME, got %q", cfg.Edge.ID)
	}
	if cfg.Blob.Type != "s3" || cfg.Blob.S3.Bucket != "images" {
		t.Errorf("Expected s3 bucket 'images', got %s/%q", cfg.Blob.Type, cfg.Blob.S3.Bucket)
	}
	if !cfg.Ledger.Enabled {
		t.Error("Expected ledger enabled by default")
	}
}

func TestLoad_NoConfigFileWithoutEdgeID(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("BUCKETNAME", "images")

	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Fatal("Expected an error without an edge id")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	clearLegacyEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[edge]
id = "edge-toml"
workdir = "` + yamlSafePath(tmpDir) + `"

[blob]
type = "memory"

[queue]
type = "memory"

[orchestrator]
send_status_interval = "2s"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Orchestrator.SendStatusInterval != 2*time.Second {
		t.Errorf("Expected send status interval 2s, got %v", cfg.Orchestrator.SendStatusInterval)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Blob.S3.ServerSideEncryption != "aws:kms" {
		t.Errorf("Expected aws:kms encryption, got %q", cfg.Blob.S3.ServerSideEncryption)
	}
	if cfg.Queue.Type != "sqs" {
		t.Errorf("Expected sqs queue, got %q", cfg.Queue.Type)
	}
	if cfg.Storage.ThrottleDelay != 5*time.Second {
		t.Errorf("Expected 5s throttle delay, got %v", cfg.Storage.ThrottleDelay)
	}
	if cfg.Workers.Count != 0 {
		t.Errorf("Expected worker count left to the engine, got %d", cfg.Workers.Count)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
	if DefaultConfigExists() {
		t.Error("Expected no config in a fresh XDG_CONFIG_HOME")
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()
	if filepath.Base(dir) != "dicomgw" {
		t.Errorf("Expected directory name 'dicomgw', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("DICOMGW_LOGGING_LEVEL", "ERROR")
	t.Setenv("DICOMGW_EDGE_ID", "edge-env")

	cfg, err := Load(writeMinimalConfig(t, ""))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Edge.ID != "edge-env" {
		t.Errorf("Expected edge id from env var, got %q", cfg.Edge.ID)
	}
}

func TestLoad_LegacyEnvironmentWins(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("DICOMGW_EDGE_ID", "edge-env")
	t.Setenv("AWS_IOT_THING_NAME", "thing")
	t.Setenv("LOGLEVEL", "debug")
	t.Setenv("STORAGE_THROTTLE", "2000")
	t.Setenv("STORAGE_OOR", "500")

	cfg, err := Load(writeMinimalConfig(t, ""))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Edge.ID != "thing" {
		t.Errorf("Expected AWS_IOT_THING_NAME to win, got %q", cfg.Edge.ID)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Storage.ThrottleMB != 2000 || cfg.Storage.OutOfResourceMB != 500 {
		t.Errorf("Expected thresholds 2000/500, got %d/%d", cfg.Storage.ThrottleMB, cfg.Storage.OutOfResourceMB)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearLegacyEnv(t)
	cfg := GetDefaultConfig()
	cfg.Edge.ID = "saved"
	cfg.Blob.S3.Bucket = "bucket"
	cfg.Queue.Names.Receiver = "custom.fifo"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Edge.ID != "saved" || loaded.Queue.Names.Receiver != "custom.fifo" {
		t.Errorf("Round trip lost values: %+v", loaded.Edge)
	}
	if !loaded.Ledger.Enabled {
		t.Error("Expected ledger to stay enabled")
	}
	if loaded.Housekeeping.OrphanAge != time.Hour {
		t.Errorf("Expected orphan age 1h, got %v", loaded.Housekeeping.OrphanAge)
	}
}
