// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
queue:
  type: "postgres"
  max_attempts: 5
  retry_backoff: "10s"
upload:
  max_size_bytes: 1048576
log:
  level: "debug"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.Queue.Type != "postgres" {
		t.Errorf("Queue.Type: got %q", cfg.Queue.Type)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("Queue.MaxAttempts: got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Upload.MaxSizeBytes != 1048576 {
		t.Errorf("Upload.MaxSizeBytes: got %d", cfg.Upload.MaxSizeBytes)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	yaml := `
queue:
  type: "postgres"
  dsn: "${VAULT_TEST_QUEUE_DSN}"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	t.Setenv("VAULT_TEST_QUEUE_DSN", "postgres://u:p@localhost:5432/vault")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Queue.DSN != "postgres://u:p@localhost:5432/vault" {
		t.Errorf("Queue.DSN: got %q", cfg.Queue.DSN)
	}
}
