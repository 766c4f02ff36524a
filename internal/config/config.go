package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/straja-ai/piiscope/internal/export"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/logging"
	"github.com/straja-ai/piiscope/internal/ner"
	"github.com/straja-ai/piiscope/internal/taxonomy"
	"github.com/straja-ai/piiscope/internal/telemetry"
)

// Config holds piiscope configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    logging.Config    `yaml:"logging"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`
	Taxonomy   taxonomy.Config   `yaml:"taxonomy"`
	NER        ner.Config        `yaml:"ner"`
	Index      IndexConfig       `yaml:"index"`
	Export     ExportConfig      `yaml:"export"`
	Security   SecurityConfig    `yaml:"security"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`           // HTTP listen address, e.g. ":8080"
	MaxBodyBytes    int64         `yaml:"max_body_bytes"` // upload cap for datasets
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RunTTL          time.Duration `yaml:"run_ttl"` // idle workspaces lose their current run
}

// IndexConfig selects the search sinks a finished run is pushed to.
type IndexConfig struct {
	Meili   MeiliConfig         `yaml:"meilisearch"`
	SQLite  SQLiteConfig        `yaml:"sqlite"`
	File    index.FileConfig    `yaml:"file"`
	Async   bool                `yaml:"async"` // queue batches instead of delivering inline
	Emitter index.EmitterConfig `yaml:"emitter"`
}

type MeiliConfig struct {
	Enabled           bool `yaml:"enabled"`
	index.MeiliConfig `yaml:",inline"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"` // empty disables the sink; ":memory:" keeps it in-process
}

// Enabled reports whether any sink is configured.
func (c IndexConfig) Enabled() bool {
	return c.Meili.Enabled || c.SQLite.Path != "" || c.File.Path != ""
}

type ExportConfig struct {
	Archive export.ArchiveOptions `yaml:"archive"`
}

type SecurityConfig struct {
	// RequireAPIKey rejects requests without a workspace key. When false,
	// unauthenticated requests share the "default" workspace.
	RequireAPIKey bool `yaml:"require_api_key"`
}

// WorkspaceConfig owns exactly one current detection run on the HTTP surface.
type WorkspaceConfig struct {
	ID string `yaml:"id"`
	// APIKeys are plaintext keys or bcrypt hashes ("$2a$..." / "$2b$...").
	APIKeys []string `yaml:"api_keys"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
// A .env file in the working directory is loaded first, best-effort, and
// environment overrides are applied last.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxBodyBytes:    32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RunTTL:          time.Hour,
		},
		Logging: logging.DefaultConfig(),
		Telemetry: telemetry.Config{
			Protocol: "grpc",
			Service:  "piiscope",
		},
		Taxonomy: taxonomy.DefaultConfig(),
		NER: ner.Config{
			Backend:     ner.BackendRegex,
			Parallelism: 4,
		},
		Index: IndexConfig{
			Emitter: index.EmitterConfig{QueueSize: 64, Workers: 1, DeliverTimeout: 30 * time.Second, ShutdownTimeout: 5 * time.Second},
		},
		Export: ExportConfig{
			Archive: export.ArchiveOptions{ScryptN: export.DefaultScryptN},
		},
		Workspaces: []WorkspaceConfig{},
	}
}

// applyEnv lets deployment secrets live outside the YAML file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MEILI_URL")); v != "" {
		cfg.Index.Meili.URL = v
		cfg.Index.Meili.Enabled = true
	}
	if v := os.Getenv("MEILI_KEY"); v != "" {
		cfg.Index.Meili.Key = v
	}
	if v := strings.TrimSpace(os.Getenv("PIISCOPE_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PIISCOPE_NER_URL")); v != "" {
		cfg.NER.HTTP.URL = v
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Server.RunTTL <= 0 {
		cfg.Server.RunTTL = def.Server.RunTTL
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Prefix == "" {
		cfg.Logging.Prefix = def.Logging.Prefix
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}

	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = def.Telemetry.Service
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}

	// Configured weights and categories extend the built-in tables.
	for typ, w := range def.Taxonomy.RiskWeights {
		if cfg.Taxonomy.RiskWeights == nil {
			cfg.Taxonomy.RiskWeights = make(map[string]int, len(def.Taxonomy.RiskWeights))
		}
		if _, ok := cfg.Taxonomy.RiskWeights[typ]; !ok {
			cfg.Taxonomy.RiskWeights[typ] = w
		}
	}
	for label, cat := range def.Taxonomy.LabelCategories {
		if cfg.Taxonomy.LabelCategories == nil {
			cfg.Taxonomy.LabelCategories = make(map[string]string, len(def.Taxonomy.LabelCategories))
		}
		if _, ok := cfg.Taxonomy.LabelCategories[label]; !ok {
			cfg.Taxonomy.LabelCategories[label] = cat
		}
	}
	if len(cfg.Taxonomy.PIITypes) == 0 {
		cfg.Taxonomy.PIITypes = def.Taxonomy.PIITypes
	}
	if len(cfg.Taxonomy.HIITypes) == 0 {
		cfg.Taxonomy.HIITypes = def.Taxonomy.HIITypes
	}

	if cfg.NER.Backend == "" {
		cfg.NER.Backend = def.NER.Backend
	}
	if cfg.NER.Parallelism <= 0 {
		cfg.NER.Parallelism = def.NER.Parallelism
	}

	if cfg.Index.Emitter.QueueSize <= 0 {
		cfg.Index.Emitter.QueueSize = def.Index.Emitter.QueueSize
	}
	if cfg.Index.Emitter.Workers <= 0 {
		cfg.Index.Emitter.Workers = def.Index.Emitter.Workers
	}
	if cfg.Index.Emitter.DeliverTimeout <= 0 {
		cfg.Index.Emitter.DeliverTimeout = def.Index.Emitter.DeliverTimeout
	}
	if cfg.Index.Emitter.ShutdownTimeout <= 0 {
		cfg.Index.Emitter.ShutdownTimeout = def.Index.Emitter.ShutdownTimeout
	}

	if cfg.Export.Archive.ScryptN <= 0 {
		cfg.Export.Archive.ScryptN = def.Export.Archive.ScryptN
	}
}
