package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/var/lib/test")
	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if !cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = false, want true")
	}
	if cfg.Storage.DataDir != "/var/lib/test/casematch" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Blob.Backend != "local" || cfg.Blob.LocalDir != "/var/lib/test/casematch/blobs" {
		t.Errorf("Blob = %+v", cfg.Blob)
	}
	if cfg.Worker.MaxAttempts != 3 || cfg.Worker.TaskTimeLimit != 10*time.Minute {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Worker.Concurrency["media"] != 2 || cfg.Worker.Concurrency["watchlist"] != 1 {
		t.Errorf("Worker.Concurrency = %v", cfg.Worker.Concurrency)
	}
	if cfg.Matching.FaceThreshold != 0.6 || cfg.Matching.ScanThreshold != 0.5 {
		t.Errorf("Matching = %+v", cfg.Matching)
	}
	if cfg.API.Token != "" {
		t.Errorf("API.Token = %q, want empty", cfg.API.Token)
	}
}

// TestFileParsing verifies that typed fields are read from the JSON file.
func TestFileParsing(t *testing.T) {
	b := writeTempConfig(t, `{
  "server.port": 9000,
  "server.mcp_enabled": "false",
  "storage.data_dir": "/tmp/casematch-test",
  "blob.backend": "s3",
  "blob.s3_bucket": "evidence",
  "blob.s3_path_style": "true",
  "worker.concurrency.faces": 4,
  "worker.poll_interval": "2s",
  "matching.face_threshold": "0.55"
}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = true, want false")
	}
	if cfg.Blob.Backend != "s3" || cfg.Blob.S3Bucket != "evidence" || !cfg.Blob.S3PathStyle {
		t.Errorf("Blob = %+v", cfg.Blob)
	}
	if cfg.Blob.LocalDir != "/tmp/casematch-test/blobs" {
		t.Errorf("Blob.LocalDir = %q", cfg.Blob.LocalDir)
	}
	if cfg.Worker.Concurrency["faces"] != 4 || cfg.Worker.Concurrency["media"] != 2 {
		t.Errorf("Worker.Concurrency = %v", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("Worker.PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.Matching.FaceThreshold != 0.55 {
		t.Errorf("Matching.FaceThreshold = %v", cfg.Matching.FaceThreshold)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"server.port": 9000, "faces.service_url": "http://file:1"}`)

	t.Setenv("CASEMATCH_SERVER_PORT", "9100")
	t.Setenv("CASEMATCH_API_TOKEN", "env-token")
	t.Setenv("CASEMATCH_WORKER_CONCURRENCY_SIGNATURES", "8")
	t.Setenv("CASEMATCH_WORKER_TASK_TIME_LIMIT", "30m")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Faces.URL != "http://file:1" {
		t.Errorf("Faces.URL = %q", cfg.Faces.URL)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q, want env-token", cfg.API.Token)
	}
	if cfg.Worker.Concurrency["signatures"] != 8 {
		t.Errorf("signatures concurrency = %d", cfg.Worker.Concurrency["signatures"])
	}
	if cfg.Worker.TaskTimeLimit != 30*time.Minute {
		t.Errorf("TaskTimeLimit = %v", cfg.Worker.TaskTimeLimit)
	}
}

// TestInvalidEnvKeepsDefault verifies a malformed value falls back to the default.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("CASEMATCH_SERVER_PORT", "not-a-number")
	t.Setenv("CASEMATCH_MATCHING_SCAN_THRESHOLD", "x")

	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 || cfg.Matching.ScanThreshold != 0.5 {
		t.Errorf("cfg = %+v / %+v", cfg.Server, cfg.Matching)
	}
}

// TestSecretsIgnoredInFile verifies secrets are read only from the environment.
func TestSecretsIgnoredInFile(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{"api.token": "file-token", "blob.s3_secret_key": "s"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "" || cfg.Blob.S3SecretKey != "" {
		t.Errorf("secrets loaded from file: %q %q", cfg.API.Token, cfg.Blob.S3SecretKey)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"s3 without bucket", `{"blob.backend": "s3"}`, "blob.s3_bucket"},
		{"unknown backend", `{"blob.backend": "ftp"}`, "invalid blob.backend"},
		{"bad log format", `{"log.format": "xml"}`, "invalid log.format"},
		{"zero attempts", `{"worker.max_attempts": 0}`, "worker.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(writeTempConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

// TestRequireAPIToken verifies a clear error when the API token is missing.
func TestRequireAPIToken(t *testing.T) {
	cfg := defaults()
	err := cfg.RequireAPIToken()
	if err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Fatalf("err = %v", err)
	}
	cfg.API.Token = "t"
	if err := cfg.RequireAPIToken(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casematch", "config.json")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "9200"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "worker.poll_interval", "3s"); err != nil {
		t.Fatalf("setKey poll_interval: %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "worker.task_time_limit", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "api.token", "x"); err == nil || !strings.Contains(err.Error(), "CASEMATCH_API_TOKEN") {
		t.Errorf("setting secret: err = %v", err)
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 9200 || cfg.Worker.PollInterval != 3*time.Second {
		t.Errorf("reloaded = %+v / %+v", cfg.Server, cfg.Worker)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "secret-token"
	for _, k := range ShowAll(cfg) {
		if k.Key == "api.token" || k.Value == "secret-token" {
			t.Errorf("secret exposed: %+v", k)
		}
	}
	keys := ValidKeys()
	found := false
	for _, k := range keys {
		if k == "worker.concurrency.categorization" {
			found = true
		}
	}
	if !found {
		t.Errorf("ValidKeys missing lane concurrency: %v", keys)
	}
}
