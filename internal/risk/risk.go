// Package risk assigns risk weights to entities and sums them per record.
package risk

import (
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// Scorer resolves weights from a taxonomy. Unknown types score
// taxonomy.DefaultWeight and never fail.
type Scorer struct {
	tax *taxonomy.Taxonomy
}

// New returns a scorer over tax. A nil taxonomy uses the built-in tables.
func New(tax *taxonomy.Taxonomy) *Scorer {
	if tax == nil {
		tax = taxonomy.Default()
	}
	return &Scorer{tax: tax}
}

// Score is the per-entity weight for typ (case-insensitive).
func (s *Scorer) Score(typ string) int {
	return s.tax.Weight(typ)
}

// WeightFunc adapts the scorer for entity.Normalize.
func (s *Scorer) WeightFunc() entity.WeightFunc {
	return s.Score
}

// RecordScores sums entity risk per record position. n is the number of
// records in the run; records without entities score 0. Entities whose
// Record falls outside [0, n) are ignored.
func RecordScores(n int, groups ...[]entity.Entity) []int {
	scores := make([]int, n)
	for _, ents := range groups {
		for _, e := range ents {
			if e.Record < 0 || e.Record >= n {
				continue
			}
			scores[e.Record] += e.RiskScore
		}
	}
	return scores
}

// Total sums the risk of all entities.
func Total(ents []entity.Entity) int {
	sum := 0
	for _, e := range ents {
		sum += e.RiskScore
	}
	return sum
}
