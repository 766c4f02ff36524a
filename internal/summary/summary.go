// Package summary aggregates a filtered entity view and per-record risk
// scores into display statistics.
package summary

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/store"
)

// TypeCount is one bar of a distribution.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Risk describes per-record risk scores. Valid is false when there are no
// records.
type Risk struct {
	Valid  bool    `json:"valid"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// Summary is the aggregate of one view.
type Summary struct {
	Records  int `json:"records"`
	Entities int `json:"entities"`
	// Empty is set when the view has no entities; MostCommon is then unset.
	Empty           bool        `json:"empty"`
	MostCommonType  string      `json:"most_common_type,omitempty"`
	MostCommonCount int         `json:"most_common_count,omitempty"`
	PII             []TypeCount `json:"pii_distribution"`
	HII             []TypeCount `json:"hii_distribution"`
	Risk            Risk        `json:"risk"`
}

// Aggregate summarizes v. recordScores are the run's per-record totals.
// Ties for the most common type go to the lexicographically smallest type.
func Aggregate(v store.View, recordScores []int) Summary {
	s := Summary{
		Records:  len(recordScores),
		Entities: v.Len(),
		PII:      Distribution(v.PII),
		HII:      Distribution(v.HII),
		Risk:     RiskStats(recordScores),
	}
	all := Distribution(v.All())
	if len(all) == 0 {
		s.Empty = true
		return s
	}
	s.MostCommonType = all[0].Type
	s.MostCommonCount = all[0].Count
	return s
}

// Distribution counts entities per type, highest count first, ties by type.
func Distribution(ents []entity.Entity) []TypeCount {
	if len(ents) == 0 {
		return []TypeCount{}
	}
	counts := make(map[string]int)
	for _, e := range ents {
		counts[e.Type]++
	}
	out := make([]TypeCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, TypeCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// RiskStats computes mean, standard deviation, min and max of scores.
func RiskStats(scores []int) Risk {
	if len(scores) == 0 {
		return Risk{}
	}
	xs := make([]float64, len(scores))
	for i, s := range scores {
		xs[i] = float64(s)
	}
	r := Risk{
		Valid: true,
		Mean:  stat.Mean(xs, nil),
		Min:   int(floats.Min(xs)),
		Max:   int(floats.Max(xs)),
	}
	if len(xs) > 1 {
		r.StdDev = stat.StdDev(xs, nil)
	}
	return r
}
