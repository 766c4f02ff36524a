package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("MEILI_URL", "")
	t.Setenv("PIISCOPE_ADDR", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.NER.Backend != "regex" {
		t.Fatalf("expected regex backend, got %q", cfg.NER.Backend)
	}
	if cfg.Taxonomy.RiskWeights["CREDIT_CARD"] != 5 {
		t.Fatalf("expected built-in weights, got %v", cfg.Taxonomy.RiskWeights)
	}
	if cfg.Index.Enabled() {
		t.Fatalf("expected no index sinks by default")
	}
}

func TestLoadYAMLAndDefaults(t *testing.T) {
	t.Setenv("MEILI_URL", "")
	t.Setenv("MEILI_KEY", "")
	t.Setenv("PIISCOPE_ADDR", "")
	path := filepath.Join(t.TempDir(), "piiscope.yaml")
	data := `
server:
  addr: ":9090"
logging:
  level: debug
ner:
  backend: http
  http:
    url: http://ner:8001
    timeout: 3s
index:
  meilisearch:
    enabled: true
    url: http://meili:7700
    key: master
  sqlite:
    path: /tmp/piiscope.db
taxonomy:
  risk_weights:
    EMAIL: 7
workspaces:
  - id: ops
    api_keys: ["k1"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected server/logging: %+v %+v", cfg.Server, cfg.Logging)
	}
	if cfg.Server.MaxBodyBytes != 32<<20 || cfg.NER.Parallelism != 4 {
		t.Fatalf("expected defaults applied, got body=%d parallelism=%d", cfg.Server.MaxBodyBytes, cfg.NER.Parallelism)
	}
	if cfg.NER.HTTP.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %v", cfg.NER.HTTP.Timeout)
	}
	if !cfg.Index.Meili.Enabled || cfg.Index.Meili.URL != "http://meili:7700" || cfg.Index.Meili.Key != "master" {
		t.Fatalf("unexpected meili config: %+v", cfg.Index.Meili)
	}
	if cfg.Index.SQLite.Path != "/tmp/piiscope.db" {
		t.Fatalf("unexpected sqlite path %q", cfg.Index.SQLite.Path)
	}
	if cfg.Taxonomy.RiskWeights["EMAIL"] != 7 || cfg.Taxonomy.RiskWeights["CREDIT_CARD"] != 5 {
		t.Fatalf("expected overridden weight on top of defaults, got %v", cfg.Taxonomy.RiskWeights)
	}
	if len(cfg.Workspaces) != 1 || cfg.Workspaces[0].ID != "ops" {
		t.Fatalf("unexpected workspaces %+v", cfg.Workspaces)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEILI_URL", "http://search:7700")
	t.Setenv("MEILI_KEY", "secret")
	t.Setenv("PIISCOPE_ADDR", ":7000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Index.Meili.Enabled || cfg.Index.Meili.URL != "http://search:7700" || cfg.Index.Meili.Key != "secret" {
		t.Fatalf("expected meili from env, got %+v", cfg.Index.Meili)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("expected addr from env, got %q", cfg.Server.Addr)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
