package redact

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

func TestApplyMasksSelectedTypes(t *testing.T) {
	in := []entity.Entity{
		{Value: "Jane Doe", Type: "NAME", RiskScore: 1},
		{Value: "j@x.com", Type: "EMAIL", RiskScore: 2},
		{Value: "", Type: "EMAIL", RiskScore: 2},
	}
	out := Apply(in, NewTypeSet("email"))
	if out[0].Value != "Jane Doe" {
		t.Fatalf("NAME should not be masked: %+v", out[0])
	}
	if out[1].Value != Sentinel || out[1].RiskScore != 2 {
		t.Fatalf("EMAIL should be masked with score kept: %+v", out[1])
	}
	if out[2].Value != "" {
		t.Fatalf("empty value must stay empty: %+v", out[2])
	}
	if in[1].Value != "j@x.com" {
		t.Fatalf("Apply mutated its input: %+v", in[1])
	}
}

func TestApplyEmptySetIsCopy(t *testing.T) {
	in := []entity.Entity{{Value: "a", Type: "ID"}}
	out := Apply(in, nil)
	out[0].Value = "b"
	if in[0].Value != "a" {
		t.Fatalf("expected a copy")
	}
	if Apply(nil, NewTypeSet("ID")) != nil {
		t.Fatalf("nil in, nil out")
	}
}

func TestPolicyFor(t *testing.T) {
	p := Policy{PII: NewTypeSet("NAME"), HII: NewTypeSet("ALLERGIES", " ")}
	if !p.For(taxonomy.GroupPII).Has("name") || p.For(taxonomy.GroupPII).Has("ALLERGIES") {
		t.Fatalf("unexpected PII set %v", p.PII)
	}
	if got := p.For(taxonomy.GroupHII).Sorted(); len(got) != 1 || got[0] != "ALLERGIES" {
		t.Fatalf("unexpected HII set %v", got)
	}
	if !p.Enabled() || (Policy{}).Enabled() {
		t.Fatalf("Enabled mismatch")
	}
}

func TestApplyIdempotentProperty(t *testing.T) {
	types := []string{"NAME", "EMAIL", "PHONE", "ALLERGIES", "FOO"}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		ents := make([]entity.Entity, n)
		for i := range ents {
			ents[i] = entity.Entity{
				Value: rapid.StringMatching(`[a-z@. ]{0,8}`).Draw(t, "value"),
				Type:  rapid.SampledFrom(types).Draw(t, "type"),
			}
		}
		active := NewTypeSet(rapid.SliceOfDistinct(rapid.SampledFrom(types), func(s string) string { return s }).Draw(t, "active")...)

		once := Apply(ents, active)
		twice := Apply(once, active)
		for i := range once {
			if once[i] != twice[i] {
				t.Fatalf("not idempotent at %d: %+v vs %+v", i, once[i], twice[i])
			}
			if active.Has(ents[i].Type) && ents[i].Value != "" && once[i].Value != Sentinel {
				t.Fatalf("expected sentinel at %d: %+v", i, once[i])
			}
		}
	})
}
