package entity

import (
	"math"
	"strconv"
	"strings"

	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// Group aliases the taxonomy partition for callers that only deal in entities.
type Group = taxonomy.Group

// RawSpan is a detector output before normalization. Value may be empty.
type RawSpan struct {
	Value string
	Type  string
	// Field names the source column(s) or "" for NLP spans.
	Field string
}

// Entity is a normalized detection. Record is the position of the record
// within the run that produced it and is not part of the display row.
// Category is only set on display rows of NLP-labelled entities.
type Entity struct {
	Value     string `json:"Entity"`
	Type      string `json:"Type"`
	Category  string `json:"Category,omitempty"`
	RiskScore int    `json:"Risk_Score"`
	Record    int    `json:"-"`
}

// Equal reports structural equality (value and type).
func (e Entity) Equal(o Entity) bool {
	return e.Value == o.Value && e.Type == o.Type
}

// WeightFunc resolves a risk weight for a canonical type.
type WeightFunc func(typ string) int

// Clean coerces a raw detector value to its trimmed string form. NaN-like
// floats and nil become "".
func Clean(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ""
		}
		return strconv.FormatFloat(f, 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case interface{ String() string }:
		return strings.TrimSpace(x.String())
	default:
		return ""
	}
}

// Normalize keeps spans whose trimmed value and type are both non-empty,
// upper-cases the type and stamps the risk score from weight.
func Normalize(record int, spans []RawSpan, weight WeightFunc) []Entity {
	out := make([]Entity, 0, len(spans))
	for _, s := range spans {
		value := Clean(s.Value)
		typ := strings.ToUpper(Clean(s.Type))
		if value == "" || typ == "" {
			continue
		}
		score := taxonomy.DefaultWeight
		if weight != nil {
			score = weight(typ)
		}
		out = append(out, Entity{Value: value, Type: typ, RiskScore: score, Record: record})
	}
	return out
}

// Flatten concatenates per-record lists in record order.
func Flatten(perRecord [][]Entity) []Entity {
	n := 0
	for _, ents := range perRecord {
		n += len(ents)
	}
	out := make([]Entity, 0, n)
	for _, ents := range perRecord {
		out = append(out, ents...)
	}
	return out
}

// Types lists the distinct types in first-seen order.
func Types(ents []Entity) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range ents {
		if _, ok := seen[e.Type]; ok {
			continue
		}
		seen[e.Type] = struct{}{}
		out = append(out, e.Type)
	}
	return out
}
