package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/straja-ai/piiscope/internal/export"
	"github.com/straja-ai/piiscope/internal/logging"
	"github.com/straja-ai/piiscope/internal/ner"
	"github.com/straja-ai/piiscope/internal/taxonomy"
	"github.com/straja-ai/piiscope/internal/telemetry"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if !logging.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn, error or fatal, got %q", cfg.Logging.Level)
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	if err := validateTaxonomyConfig(cfg.Taxonomy); err != nil {
		return err
	}

	if err := validateNERConfig(cfg.NER); err != nil {
		return err
	}

	if err := validateIndexConfig(cfg.Index); err != nil {
		return err
	}

	if n := cfg.Export.Archive.ScryptN; n != 0 && (n < 2 || n > export.MaxScryptN || n&(n-1) != 0) {
		return fmt.Errorf("export.archive.scrypt_n must be a power of two between 2 and %d, got %d", export.MaxScryptN, n)
	}

	return validateWorkspaces(cfg.Workspaces, cfg.Security)
}

func validateTelemetryConfig(t telemetry.Config) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}

func validateTaxonomyConfig(t taxonomy.Config) error {
	for typ, w := range t.RiskWeights {
		if strings.TrimSpace(typ) == "" {
			return errors.New("taxonomy.risk_weights has an empty type")
		}
		if w < 0 {
			return fmt.Errorf("taxonomy.risk_weights[%s] must not be negative, got %d", typ, w)
		}
	}
	pii := make(map[string]struct{}, len(t.PIITypes))
	for _, typ := range t.PIITypes {
		pii[strings.ToUpper(strings.TrimSpace(typ))] = struct{}{}
	}
	for _, typ := range t.HIITypes {
		if _, dup := pii[strings.ToUpper(strings.TrimSpace(typ))]; dup {
			return fmt.Errorf("taxonomy type %q is listed as both PII and HII", typ)
		}
	}
	return nil
}

func validateNERConfig(n ner.Config) error {
	switch strings.ToLower(strings.TrimSpace(n.Backend)) {
	case "", ner.BackendRegex:
	case ner.BackendONNX:
		if strings.TrimSpace(n.ONNX.BundleDir) == "" {
			return errors.New("ner.onnx.bundle_dir must be set for the onnx backend")
		}
		if n.ONNX.MaxTokens < 0 {
			return fmt.Errorf("ner.onnx.max_tokens must not be negative, got %d", n.ONNX.MaxTokens)
		}
	case ner.BackendHTTP:
		if err := validateHTTPURL("ner.http.url", n.HTTP.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("ner.backend must be onnx, http or regex, got %q", n.Backend)
	}
	if n.Parallelism < 0 {
		return fmt.Errorf("ner.parallelism must not be negative, got %d", n.Parallelism)
	}
	return nil
}

func validateIndexConfig(c IndexConfig) error {
	if c.Meili.Enabled {
		if err := validateHTTPURL("index.meilisearch.url", c.Meili.URL); err != nil {
			return err
		}
	}
	if c.SQLite.Path != "" && strings.TrimSpace(c.SQLite.Path) == "" {
		return errors.New("index.sqlite.path is blank")
	}
	if c.File.Path != "" && strings.TrimSpace(c.File.Path) == "" {
		return errors.New("index.file.path is blank")
	}
	return nil
}

func validateWorkspaces(ws []WorkspaceConfig, sec SecurityConfig) error {
	if sec.RequireAPIKey && len(ws) == 0 {
		return errors.New("security.require_api_key needs at least one workspace")
	}
	ids := make(map[string]struct{}, len(ws))
	keys := make(map[string]string)
	for _, w := range ws {
		id := strings.TrimSpace(w.ID)
		if id == "" {
			return errors.New("workspace id must be set")
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("workspace %q is defined twice", id)
		}
		ids[id] = struct{}{}
		if sec.RequireAPIKey && len(w.APIKeys) == 0 {
			return fmt.Errorf("workspace %q must define at least one api_keys entry", id)
		}
		for _, k := range w.APIKeys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("workspace %q has an empty api key", id)
			}
			if owner, dup := keys[k]; dup {
				return fmt.Errorf("workspace %q reuses an api key of workspace %q", id, owner)
			}
			keys[k] = id
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be set", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is invalid", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be http or https", field)
	}
	return nil
}
