package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
port: "8080"
logLevel: info
databaseURL: postgres://localhost/docmind
redisAddr: localhost:6379
minioEndpoint: localhost:9000
minioAccessKey: access
minioSecretKey: secret
minioBucket: documents
ai:
  provider: ollama
  model: llama3
  embeddingModel: nomic-embed-text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Driver != "redis" {
		t.Errorf("queue driver = %q", cfg.Queue.Driver)
	}
	if cfg.Queue.Concurrency != 2 || cfg.Queue.MaxRetries != 3 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Processing.ChunkSize != 1000 || cfg.Processing.ChunkOverlap != 200 {
		t.Errorf("processing defaults = %+v", cfg.Processing)
	}
	if cfg.Chat.TopK != 3 || cfg.Chat.HistoryLimit != 5 {
		t.Errorf("chat defaults = %+v", cfg.Chat)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db-host/override")
	t.Setenv("DOCMIND_QUEUE_CONCURRENCY", "8")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db-host/override" {
		t.Errorf("databaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Queue.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Queue.Concurrency)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing port":        "databaseURL: x",
		"unknown queue driver": validYAML + "queue:\n  driver: kafka\n",
		"unknown ai provider": validYAML + "ai:\n  provider: dreams\n  model: m\n  embeddingModel: e\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
