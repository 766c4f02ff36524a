package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/straja-ai/piiscope/internal/config"
	"github.com/straja-ai/piiscope/internal/engine"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/ner"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/taxonomy"
	"github.com/straja-ai/piiscope/internal/telemetry"
)

// app holds the long-lived components built from config.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	engine    *engine.Engine
	labeler   ner.Labeler
	emitter   *index.Emitter
	search    *index.SQLiteSink
}

type warmer interface {
	Warmup(ctx context.Context, sample string) (time.Duration, error)
}

// buildApp wires the engine and, when withSinks is set, the index sinks.
func buildApp(ctx context.Context, cfg *config.Config, withSinks bool) (*app, error) {
	telCfg := cfg.Telemetry
	telCfg.Version = Version
	tel, err := telemetry.NewProvider(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a := &app{cfg: cfg, telemetry: tel}

	labeler, err := ner.New(cfg.NER)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("ner labeler: %w", err)
	}
	a.labeler = labeler
	if w, ok := labeler.(warmer); ok {
		if d, err := w.Warmup(ctx, "Jane Doe lives in Paris."); err != nil {
			redact.Warnf("labeler warmup failed: %v", err)
		} else {
			redact.Debugf("labeler %s warm in %s", labeler.Name(), d.Round(time.Millisecond))
		}
	}

	a.engine = engine.New(taxonomy.New(cfg.Taxonomy), labeler,
		engine.WithTelemetry(tel),
		engine.WithParallelism(cfg.NER.Parallelism),
	)

	if withSinks && cfg.Index.Enabled() {
		sinks, search, err := buildSinks(ctx, cfg.Index)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		emCfg := cfg.Index.Emitter
		emCfg.Telemetry = tel
		a.emitter = index.NewEmitter(emCfg, sinks)
		a.search = search
	}
	return a, nil
}

func buildSinks(ctx context.Context, cfg config.IndexConfig) ([]index.Sink, *index.SQLiteSink, error) {
	var (
		sinks  []index.Sink
		search *index.SQLiteSink
	)
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close(ctx)
		}
	}
	if cfg.Meili.Enabled {
		s, err := index.NewMeiliSink(cfg.Meili.MeiliConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("meilisearch sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.SQLite.Path != "" {
		s, err := index.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("sqlite sink: %w", err)
		}
		sinks = append(sinks, s)
		search = s
	}
	if cfg.File.Path != "" {
		s, err := index.NewFileSink(cfg.File)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, search, nil
}

// Close drains index sinks, releases the labeler and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if a == nil {
		return
	}
	a.emitter.Close(ctx)
	if c, ok := a.labeler.(io.Closer); ok {
		if err := c.Close(); err != nil {
			redact.Warnf("close labeler: %v", err)
		}
	}
	a.telemetry.Shutdown(ctx)
}
