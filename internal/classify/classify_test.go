package classify

import "testing"

func TestRecommend(t *testing.T) {
	cases := []struct {
		name    string
		columns []string
		want    Mode
	}{
		{"text only", []string{"id", "text"}, ModeDescriptive},
		{"text wins over tabular", []string{"fname", "email", "TEXT"}, ModeDescriptive},
		{"tabular", []string{"id", "Email", "zip"}, ModeTabular},
		{"cc only", []string{"cc_number"}, ModeTabular},
		{"no overlap", []string{"id", "notes", "city"}, ModeNone},
		{"empty", nil, ModeNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Recommend(tc.columns); got != tc.want {
				t.Fatalf("Recommend(%v) = %q, want %q", tc.columns, got, tc.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if m, ok := ParseMode("Tabular Data"); !ok || m != ModeTabular {
		t.Fatalf("expected tabular, got %q ok=%v", m, ok)
	}
	if m, ok := ParseMode(" NER "); !ok || m != ModeDescriptive {
		t.Fatalf("expected descriptive, got %q ok=%v", m, ok)
	}
	if _, ok := ParseMode("auto"); ok {
		t.Fatalf("auto should not parse")
	}
}
