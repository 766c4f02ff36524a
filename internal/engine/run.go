package engine

import (
	"fmt"
	"time"

	"github.com/straja-ai/piiscope/internal/classify"
	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/detect"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/store"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// Warning is a non-fatal degradation observed during a run.
type Warning struct {
	// Record is the dataset index of the affected record.
	Record  int    `json:"record"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Type != "" {
		return fmt.Sprintf("record %d %s: %s", w.Record, w.Type, w.Message)
	}
	return fmt.Sprintf("record %d: %s", w.Record, w.Message)
}

// DetectionRun is the complete result of one run. Callers own it; a new run
// replaces it rather than merging into it. Nothing here is redacted.
type DetectionRun struct {
	ID        string
	CreatedAt time.Time
	Mode      classify.Mode
	Labeler   string
	Dataset   *dataset.Dataset

	// RecordIndex maps a run position to the dataset index of the record.
	// Descriptive runs skip records with a blank text field.
	RecordIndex []int
	// PII and HII are flat, record-major. Entity.Record is a run position.
	PII []entity.Entity
	HII []entity.Entity
	// RecordScores is aligned with RecordIndex.
	RecordScores []int
	// Fields holds per-rule outcomes for tabular runs, aligned with RecordIndex.
	Fields   [][]detect.FieldResult
	Warnings []Warning
}

// Group returns the entities of g.
func (r *DetectionRun) Group(g taxonomy.Group) []entity.Entity {
	if r == nil {
		return nil
	}
	switch g {
	case taxonomy.GroupPII:
		return r.PII
	case taxonomy.GroupHII:
		return r.HII
	default:
		return nil
	}
}

// Records is the number of records that took part in the run.
func (r *DetectionRun) Records() int {
	if r == nil {
		return 0
	}
	return len(r.RecordIndex)
}

// Types lists the distinct types across both groups, PII first.
func (r *DetectionRun) Types() []string {
	if r == nil {
		return nil
	}
	all := make([]entity.Entity, 0, len(r.PII)+len(r.HII))
	all = append(all, r.PII...)
	all = append(all, r.HII...)
	return entity.Types(all)
}

// Title names the kind of data found.
func (r *DetectionRun) Title() string {
	return taxonomy.Title(r.Types())
}

// Store builds the display store for run. Descriptive runs carry NLP labels,
// so their rows get the taxonomy's display category.
func (e *Engine) Store(run *DetectionRun) *store.Store {
	if run == nil {
		return store.New(nil, nil)
	}
	if run.Mode != classify.ModeDescriptive {
		return store.New(run.PII, run.HII)
	}
	return store.New(run.PII, run.HII, store.WithCategories(e.tax.Category))
}

// IndexName is the per-run search index name.
func (r *DetectionRun) IndexName() string {
	if r == nil {
		return ""
	}
	return index.IndexName(r.ID, r.CreatedAt)
}
