// Package engine runs detection over a dataset and returns a caller-owned
// DetectionRun. The engine keeps no run history.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/piiscope/internal/classify"
	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/detect"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/ner"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/risk"
	"github.com/straja-ai/piiscope/internal/taxonomy"
	"github.com/straja-ai/piiscope/internal/telemetry"
)

var (
	// ErrMissingColumns is returned before any record is processed when the
	// dataset lacks the columns the mode needs.
	ErrMissingColumns = detect.ErrMissingColumns
	// ErrNoMode is returned when no detection mode was chosen.
	ErrNoMode = errors.New("no detection mode selected")
	// ErrNoLabeler is returned for a descriptive run on an engine without a labeler.
	ErrNoLabeler = errors.New("descriptive detection needs a span labeler")
)

const defaultParallelism = 4

// Options selects how one run behaves.
type Options struct {
	Mode classify.Mode
	// TextField is the column holding free text; defaults to "text".
	TextField string
	// Parallelism bounds concurrent labeler calls; 0 uses the engine default.
	Parallelism int
	// Progress, when set, is called after each record completes. Calls are
	// serialized.
	Progress func(done, total int)
	// Workspace labels telemetry only.
	Workspace string
}

// Engine holds the immutable taxonomy and the collaborators a run needs.
// It is safe for concurrent use.
type Engine struct {
	tax         *taxonomy.Taxonomy
	scorer      *risk.Scorer
	text        *detect.Text
	telemetry   *telemetry.Provider
	parallelism int
	now         func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry reports runs to p.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(e *Engine) { e.telemetry = p }
}

// WithParallelism sets the default labeler concurrency.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine. tax may be nil for the default taxonomy; labeler may
// be nil when only tabular runs are needed.
func New(tax *taxonomy.Taxonomy, labeler ner.Labeler, opts ...Option) *Engine {
	if tax == nil {
		tax = taxonomy.Default()
	}
	e := &Engine{
		tax:         tax,
		scorer:      risk.New(tax),
		parallelism: defaultParallelism,
		now:         time.Now,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	if labeler != nil {
		e.text = detect.NewText(labeler)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Taxonomy returns the engine's taxonomy.
func (e *Engine) Taxonomy() *taxonomy.Taxonomy { return e.tax }

// Labeler names the configured labeler, or "" when none.
func (e *Engine) Labeler() string { return e.text.Name() }

// Run detects, normalizes and scores every record of ds. Precondition
// failures return an error before any record is processed; per-record
// labeler failures are isolated into Warnings.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, opts Options) (*DetectionRun, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if opts.TextField == "" {
		opts.TextField = classify.TextColumn
	}
	switch opts.Mode {
	case classify.ModeTabular:
		if err := detect.RequireTabularColumns(ds); err != nil {
			return nil, err
		}
	case classify.ModeDescriptive:
		if err := detect.RequireTextColumn(ds, opts.TextField); err != nil {
			return nil, err
		}
		if e.text == nil {
			return nil, ErrNoLabeler
		}
	case classify.ModeNone:
		return nil, ErrNoMode
	default:
		return nil, fmt.Errorf("unknown detection mode %q", opts.Mode)
	}

	start := e.now()
	ctx, span := e.telemetry.StartRun(ctx, string(opts.Mode), ds.Len())
	defer span.End()

	run := &DetectionRun{
		ID:        e.newID(start),
		CreatedAt: start,
		Mode:      opts.Mode,
		Dataset:   ds,
	}

	var err error
	if opts.Mode == classify.ModeTabular {
		e.runTabular(ds, opts, run)
	} else {
		run.Labeler = e.text.Name()
		err = e.runDescriptive(ctx, ds, opts, run)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	run.RecordScores = risk.RecordScores(len(run.RecordIndex), run.PII, run.HII)

	e.telemetry.RecordRun(telemetry.RunStats{
		Mode:           string(run.Mode),
		Labeler:        run.Labeler,
		Workspace:      opts.Workspace,
		DurationMs:     float64(e.now().Sub(start).Microseconds()) / 1000,
		PII:            len(run.PII),
		HII:            len(run.HII),
		RecordFailures: len(run.Warnings),
	})
	redact.Logf("run %s mode=%q records=%d pii=%d hii=%d warnings=%d", run.ID, run.Mode, len(run.RecordIndex), len(run.PII), len(run.HII), len(run.Warnings))
	return run, nil
}

func (e *Engine) runTabular(ds *dataset.Dataset, opts Options, run *DetectionRun) {
	weight := e.scorer.WeightFunc()
	total := ds.Len()
	run.RecordIndex = make([]int, 0, total)
	run.Fields = make([][]detect.FieldResult, 0, total)
	for i, rec := range ds.Records() {
		res := detect.Tabular(rec)
		run.RecordIndex = append(run.RecordIndex, rec.Index)
		run.Fields = append(run.Fields, res.Fields)
		run.PII = append(run.PII, entity.Normalize(i, res.PII, weight)...)
		run.HII = append(run.HII, entity.Normalize(i, res.HII, weight)...)
		for _, fr := range res.Fields {
			if fr.Outcome == detect.Invalid {
				run.Warnings = append(run.Warnings, Warning{Record: rec.Index, Type: fr.Type, Message: fr.Err.Error()})
			}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}
}

type labelResult struct {
	spans []entity.RawSpan
	err   error
}

func (e *Engine) runDescriptive(ctx context.Context, ds *dataset.Dataset, opts Options, run *DetectionRun) error {
	var texts []string
	for _, rec := range ds.Records() {
		f := rec.Field(opts.TextField)
		if !f.Present() {
			continue
		}
		run.RecordIndex = append(run.RecordIndex, rec.Index)
		texts = append(texts, f.Value)
	}

	limit := opts.Parallelism
	if limit <= 0 {
		limit = e.parallelism
	}
	results := make([]labelResult, len(texts))
	var (
		progressMu sync.Mutex
		done       int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for pos, text := range texts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			began := time.Now()
			spans, err := e.text.Detect(gctx, text)
			e.telemetry.RecordLabel(e.text.Name(), float64(time.Since(began).Microseconds())/1000)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[pos] = labelResult{spans: spans, err: err}
			if opts.Progress != nil {
				progressMu.Lock()
				done++
				opts.Progress(done, len(texts))
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("descriptive run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("descriptive run: %w", err)
	}

	weight := e.scorer.WeightFunc()
	for pos, res := range results {
		if res.err != nil {
			run.Warnings = append(run.Warnings, Warning{Record: run.RecordIndex[pos], Message: res.err.Error()})
			redact.Warnf("run %s record %d dropped: %v", run.ID, run.RecordIndex[pos], res.err)
			continue
		}
		for _, ent := range entity.Normalize(pos, res.spans, weight) {
			if g, ok := e.tax.GroupOf(ent.Type); ok && g == taxonomy.GroupHII {
				run.HII = append(run.HII, ent)
			} else {
				run.PII = append(run.PII, ent)
			}
		}
	}
	return nil
}

func (e *Engine) newID(at time.Time) string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), e.entropy).String()
}
