// Package index pushes detected entities to search backends. Indexing is
// best-effort: a failed delivery never invalidates the run it came from.
package index

import (
	"strings"
	"time"

	"github.com/straja-ai/piiscope/internal/entity"
)

// Document is one searchable entity. ID is the entity's 0-based position in
// the combined PII-then-HII list, which only holds non-blank entities, so
// IDs are stable for a given run.
type Document struct {
	ID     int    `json:"id"`
	Entity string `json:"Entity"`
	Type   string `json:"Type"`
}

// Documents builds search documents from the unredacted run groups in a
// single pass. Entities with a blank value or type are skipped and do not
// consume an ID.
func Documents(pii, hii []entity.Entity) []Document {
	out := make([]Document, 0, len(pii)+len(hii))
	for _, group := range [][]entity.Entity{pii, hii} {
		for _, e := range group {
			value := strings.TrimSpace(e.Value)
			typ := strings.TrimSpace(e.Type)
			if value == "" || typ == "" {
				continue
			}
			out = append(out, Document{ID: len(out), Entity: value, Type: typ})
		}
	}
	return out
}

// Batch is everything a sink needs to index one run.
type Batch struct {
	Index     string     `json:"index"`
	RunID     string     `json:"run_id"`
	CreatedAt time.Time  `json:"created_at"`
	Documents []Document `json:"documents"`
}

// IndexName derives the per-run index uid from the run timestamp and id.
// The id keeps runs created in the same second apart. Characters outside
// [A-Za-z0-9_-] are replaced so the name is a valid Meilisearch uid.
func IndexName(runID string, createdAt time.Time) string {
	name := "pii_hii_data_" + createdAt.UTC().Format("20060102_150405")
	if id := uidSafe(runID); id != "" {
		name += "_" + id
	}
	return name
}

func uidSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}

// NewBatch assembles a batch for one run.
func NewBatch(runID string, createdAt time.Time, pii, hii []entity.Entity) *Batch {
	return &Batch{
		Index:     IndexName(runID, createdAt),
		RunID:     runID,
		CreatedAt: createdAt,
		Documents: Documents(pii, hii),
	}
}
