package store

import (
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

func sample() *Store {
	return New(
		[]entity.Entity{
			{Value: "Jane Doe", Type: "NAME", RiskScore: 1},
			{Value: "jane@x.com", Type: "EMAIL", RiskScore: 2},
			{Value: "Bob", Type: "NAME", RiskScore: 1, Record: 1},
		},
		[]entity.Entity{
			{Value: "peanuts", Type: "ALLERGIES", RiskScore: 2},
			{Value: "Dr Jane", Type: "DOCTOR", RiskScore: 2, Record: 1},
		},
	)
}

func TestSourcesAndTypes(t *testing.T) {
	s := sample()
	if got := fmt.Sprint(s.Sources()); got != "[Both PII HII]" {
		t.Fatalf("unexpected sources %s", got)
	}
	if got := fmt.Sprint(s.Types(taxonomy.GroupPII)); got != "[NAME EMAIL]" {
		t.Fatalf("unexpected PII types %s", got)
	}
	onlyHII := New(nil, []entity.Entity{{Value: "A+", Type: "BLOOD_TYPE"}})
	if got := fmt.Sprint(onlyHII.Sources()); got != "[Both HII]" {
		t.Fatalf("unexpected sources %s", got)
	}
	if New(nil, nil).Sources() != nil {
		t.Fatalf("empty store has no sources")
	}
	if onlyHII.Has(taxonomy.GroupPII) || !onlyHII.Has(taxonomy.GroupHII) {
		t.Fatalf("Has mismatch")
	}
}

func TestViewGroupSelection(t *testing.T) {
	s := sample()
	v := s.View(Filter{Group: OnlyPII}, redact.Policy{})
	if len(v.PII) != 3 || len(v.HII) != 0 {
		t.Fatalf("PII selection should empty HII, got %d/%d", len(v.PII), len(v.HII))
	}
	if !s.Has(taxonomy.GroupHII) {
		t.Fatalf("store HII must survive a PII-only view")
	}
	v = s.View(Filter{Group: Both}, redact.Policy{})
	if len(v.HII) != 2 {
		t.Fatalf("reselecting Both should restore HII, got %+v", v.HII)
	}
}

func TestViewTypeFilter(t *testing.T) {
	v := sample().View(Filter{PIITypes: []string{"name"}, HIITypes: nil}, redact.Policy{})
	if len(v.PII) != 2 || v.PII[1].Value != "Bob" {
		t.Fatalf("expected NAME entities only, got %+v", v.PII)
	}
	if len(v.HII) != 2 {
		t.Fatalf("nil HII filter keeps all types, got %+v", v.HII)
	}
}

func TestViewRedactThenKeyword(t *testing.T) {
	s := sample()
	p := redact.Policy{PII: redact.NewTypeSet("EMAIL")}

	v := s.View(Filter{Keyword: "jane"}, p)
	if len(v.PII) != 0 {
		t.Fatalf("redacted email must not match its original value, got %+v", v.PII)
	}
	v = s.View(Filter{Keyword: "Jane"}, p)
	if len(v.PII) != 1 || len(v.HII) != 1 {
		t.Fatalf("keyword is case-sensitive substring, got %+v / %+v", v.PII, v.HII)
	}
	v = s.View(Filter{Keyword: redact.Sentinel}, p)
	if len(v.PII) != 1 || v.PII[0].Type != "EMAIL" {
		t.Fatalf("expected the redacted email, got %+v", v.PII)
	}
	if s.Entities(taxonomy.GroupPII)[1].Value != "jane@x.com" {
		t.Fatalf("store must keep the unredacted value")
	}
}

func TestParseSelection(t *testing.T) {
	cases := map[string]Selection{"": Both, "BOTH": Both, "pii": OnlyPII, " Hii ": OnlyHII}
	for in, want := range cases {
		got, err := ParseSelection(in)
		if err != nil || got != want {
			t.Fatalf("ParseSelection(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseSelection("all"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestViewIsNonDestructiveProperty(t *testing.T) {
	types := []string{"NAME", "EMAIL", "ALLERGIES", "DOCTOR"}
	genEnts := func(t *rapid.T, label string) []entity.Entity {
		n := rapid.IntRange(0, 10).Draw(t, label+"_n")
		out := make([]entity.Entity, n)
		for i := range out {
			out[i] = entity.Entity{
				Value:     rapid.StringMatching(`[a-zA-Z ]{1,6}`).Draw(t, label+"_v"),
				Type:      rapid.SampledFrom(types).Draw(t, label+"_t"),
				RiskScore: rapid.IntRange(1, 5).Draw(t, label+"_s"),
			}
		}
		return out
	}
	rapid.Check(t, func(t *rapid.T) {
		pii := genEnts(t, "pii")
		hii := genEnts(t, "hii")
		s := New(pii, hii)
		f := Filter{
			Group:    rapid.SampledFrom([]Selection{Both, OnlyPII, OnlyHII}).Draw(t, "group"),
			PIITypes: rapid.SliceOfN(rapid.SampledFrom(types), 0, 2).Draw(t, "pii_types"),
			HIITypes: rapid.SliceOfN(rapid.SampledFrom(types), 0, 2).Draw(t, "hii_types"),
			Keyword:  rapid.StringMatching(`[a-z]{0,1}`).Draw(t, "kw"),
		}
		p := redact.Policy{
			PII: redact.NewTypeSet(rapid.SliceOfN(rapid.SampledFrom(types), 0, 2).Draw(t, "rp")...),
			HII: redact.NewTypeSet(rapid.SliceOfN(rapid.SampledFrom(types), 0, 2).Draw(t, "rh")...),
		}
		_ = s.View(f, p)

		if !reflect.DeepEqual(s.Entities(taxonomy.GroupPII), append([]entity.Entity(nil), pii...)) ||
			!reflect.DeepEqual(s.Entities(taxonomy.GroupHII), append([]entity.Entity(nil), hii...)) {
			t.Fatalf("view mutated the store")
		}
		all := s.View(Filter{Group: Both}, redact.Policy{})
		if len(all.PII) != len(pii) || len(all.HII) != len(hii) {
			t.Fatalf("reselecting Both did not restore the groups")
		}
	})
}

func TestViewEmptyTypeListSelectsNone(t *testing.T) {
	v := sample().View(Filter{PIITypes: []string{}, HIITypes: []string{"allergies"}}, redact.Policy{})
	if len(v.PII) != 0 {
		t.Fatalf("empty PII allow-list should hide PII, got %+v", v.PII)
	}
	if len(v.HII) != 1 || v.HII[0].Type != "ALLERGIES" {
		t.Fatalf("unexpected HII %+v", v.HII)
	}
}

func TestViewCategories(t *testing.T) {
	tax := taxonomy.Default()
	s := New([]entity.Entity{
		{Value: "Jane", Type: "PERSON"},
		{Value: "thing", Type: "WIDGET"},
	}, nil, WithCategories(tax.Category))

	v := s.View(Filter{}, redact.Policy{PII: redact.NewTypeSet("PERSON")})
	want := []entity.Entity{
		{Value: redact.Sentinel, Type: "PERSON", Category: "Person"},
		{Value: "thing", Type: "WIDGET", Category: taxonomy.UnknownCategory},
	}
	if !reflect.DeepEqual(v.PII, want) {
		t.Fatalf("got %+v, want %+v", v.PII, want)
	}
	if got := s.Entities(taxonomy.GroupPII); got[0].Category != "" {
		t.Fatalf("view leaked category into the store: %+v", got)
	}
	if v := sample().View(Filter{}, redact.Policy{}); v.PII[0].Category != "" {
		t.Fatalf("store without categories labelled rows: %+v", v.PII[0])
	}
}
