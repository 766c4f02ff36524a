package redact

import (
	"sort"
	"strings"

	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// Sentinel replaces the displayed value of a redacted entity.
const Sentinel = "[REDACTED]"

// TypeSet is a set of canonical (upper-case) entity types.
type TypeSet map[string]struct{}

// NewTypeSet builds a set from types, upper-casing and skipping blanks.
func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether typ is in the set.
func (s TypeSet) Has(typ string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[strings.ToUpper(typ)]
	return ok
}

// Sorted returns the members in lexicographic order.
func (s TypeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Policy holds one active redaction set per group. The zero value redacts
// nothing.
type Policy struct {
	PII TypeSet
	HII TypeSet
}

// For returns the active set for group g.
func (p Policy) For(g taxonomy.Group) TypeSet {
	switch g {
	case taxonomy.GroupPII:
		return p.PII
	case taxonomy.GroupHII:
		return p.HII
	default:
		return nil
	}
}

// Enabled reports whether any group redacts anything.
func (p Policy) Enabled() bool {
	return len(p.PII) > 0 || len(p.HII) > 0
}

// Mask returns the displayed form of a value under redaction. Empty values
// stay empty; masking a masked value yields the sentinel again.
func Mask(value string) string {
	if value == "" {
		return value
	}
	return Sentinel
}

// Apply returns a copy of ents with every entity whose type is in types
// masked. The input slice is never modified.
func Apply(ents []entity.Entity, types TypeSet) []entity.Entity {
	if ents == nil {
		return nil
	}
	out := make([]entity.Entity, len(ents))
	copy(out, ents)
	if len(types) == 0 {
		return out
	}
	for i := range out {
		if types.Has(out[i].Type) {
			out[i].Value = Mask(out[i].Value)
		}
	}
	return out
}
