// Package store holds the two entity groups of a detection run and derives
// filtered, redacted views from them without touching the originals.
package store

import (
	"fmt"
	"strings"

	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// Selection picks which groups a view shows.
type Selection string

const (
	Both    Selection = "Both"
	OnlyPII Selection = "PII"
	OnlyHII Selection = "HII"
)

// ParseSelection accepts "both", "pii", "hii" in any case; "" means Both.
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return Both, nil
	case "pii":
		return OnlyPII, nil
	case "hii":
		return OnlyHII, nil
	default:
		return "", fmt.Errorf("unknown group %q (want Both, PII or HII)", s)
	}
}

// Includes reports whether the selection keeps group g.
func (s Selection) Includes(g taxonomy.Group) bool {
	switch s {
	case "", Both:
		return true
	case OnlyPII:
		return g == taxonomy.GroupPII
	case OnlyHII:
		return g == taxonomy.GroupHII
	default:
		return false
	}
}

// Store is the canonical, immutable entity set of one run.
type Store struct {
	pii      []entity.Entity
	hii      []entity.Entity
	category func(label string) string
}

// Option configures a Store.
type Option func(*Store)

// WithCategories makes views label every row with category(row type).
func WithCategories(category func(label string) string) Option {
	return func(s *Store) { s.category = category }
}

// New copies pii and hii into a store.
func New(pii, hii []entity.Entity, opts ...Option) *Store {
	s := &Store{
		pii: append([]entity.Entity(nil), pii...),
		hii: append([]entity.Entity(nil), hii...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) group(g taxonomy.Group) []entity.Entity {
	if s == nil {
		return nil
	}
	switch g {
	case taxonomy.GroupPII:
		return s.pii
	case taxonomy.GroupHII:
		return s.hii
	default:
		return nil
	}
}

// Has reports whether group g holds any entity.
func (s *Store) Has(g taxonomy.Group) bool { return len(s.group(g)) > 0 }

// Entities returns a copy of group g.
func (s *Store) Entities(g taxonomy.Group) []entity.Entity {
	return append([]entity.Entity(nil), s.group(g)...)
}

// Types lists the distinct types of g in first-seen order.
func (s *Store) Types(g taxonomy.Group) []string { return entity.Types(s.group(g)) }

// Sources lists the selectable views: Both, then each non-empty group.
// It is nil when the store is empty.
func (s *Store) Sources() []Selection {
	var out []Selection
	if s.Has(taxonomy.GroupPII) {
		out = append(out, OnlyPII)
	}
	if s.Has(taxonomy.GroupHII) {
		out = append(out, OnlyHII)
	}
	if len(out) == 0 {
		return nil
	}
	return append([]Selection{Both}, out...)
}

// Filter restricts a view. A nil type list allows every type; a non-nil
// empty list allows none, hiding that group while the other stays filtered.
// Keyword is a case-sensitive substring matched against the displayed value.
type Filter struct {
	Group    Selection
	PIITypes []string
	HIITypes []string
	Keyword  string
}

// View is a derived, read-only projection of a Store.
type View struct {
	PII    []entity.Entity
	HII    []entity.Entity
	Filter Filter
	Policy redact.Policy
}

// View applies group selection, type filters, redaction and the keyword
// filter, in that order. The store is not modified.
func (s *Store) View(f Filter, p redact.Policy) View {
	v := View{Filter: f, Policy: p}
	for _, g := range []taxonomy.Group{taxonomy.GroupPII, taxonomy.GroupHII} {
		if !f.Group.Includes(g) {
			continue
		}
		allowed := f.PIITypes
		if g == taxonomy.GroupHII {
			allowed = f.HIITypes
		}
		ents := filterTypes(s.group(g), allowed)
		if s.category != nil {
			for i := range ents {
				ents[i].Category = s.category(ents[i].Type)
			}
		}
		ents = redact.Apply(ents, p.For(g))
		ents = filterKeyword(ents, f.Keyword)
		if g == taxonomy.GroupPII {
			v.PII = ents
		} else {
			v.HII = ents
		}
	}
	return v
}

func filterTypes(ents []entity.Entity, allowed []string) []entity.Entity {
	set := redact.NewTypeSet(allowed...)
	out := make([]entity.Entity, 0, len(ents))
	for _, e := range ents {
		if allowed == nil || set.Has(e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func filterKeyword(ents []entity.Entity, keyword string) []entity.Entity {
	if keyword == "" {
		return ents
	}
	out := ents[:0]
	for _, e := range ents {
		if strings.Contains(e.Value, keyword) {
			out = append(out, e)
		}
	}
	return out
}

// Group returns the view's entities for g.
func (v View) Group(g taxonomy.Group) []entity.Entity {
	switch g {
	case taxonomy.GroupPII:
		return v.PII
	case taxonomy.GroupHII:
		return v.HII
	default:
		return nil
	}
}

// All concatenates PII then HII.
func (v View) All() []entity.Entity {
	out := make([]entity.Entity, 0, len(v.PII)+len(v.HII))
	out = append(out, v.PII...)
	return append(out, v.HII...)
}

// Len is the number of visible entities.
func (v View) Len() int { return len(v.PII) + len(v.HII) }
