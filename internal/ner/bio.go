package ner

import (
	"sort"
	"strings"
)

// spansFromTokenLabels folds per-token BIO labels into labeled byte spans.
// An I- token continues the open span of the same type; a B- token or a type
// change starts a new one; "O" closes it.
func spansFromTokenLabels(text string, labels []string, offsets []tokenOffset, aliases map[string]string) []Span {
	if len(labels) == 0 || len(offsets) == 0 {
		return nil
	}
	var spans []Span
	var cur *Span

	closeCur := func() {
		if cur != nil {
			spans = append(spans, *cur)
			cur = nil
		}
	}

	for i, lbl := range labels {
		if i >= len(offsets) {
			break
		}
		off := offsets[i]
		if off.Start < 0 || off.End <= off.Start {
			continue
		}
		prefix, typ := splitLabel(lbl)
		if typ == "" || strings.EqualFold(lbl, "O") {
			closeCur()
			continue
		}
		typ = canonicalLabel(typ, aliases)
		if prefix == "B" || cur == nil || cur.Label != typ {
			closeCur()
			cur = &Span{Label: typ, Start: off.Start, End: off.End}
			continue
		}
		if off.End > cur.End {
			cur.End = off.End
		}
	}
	closeCur()

	spans = mergeSpans(spans)
	for i := range spans {
		spans[i].Text = spanText(text, spans[i].Start, spans[i].End)
	}
	return spans
}

func splitLabel(lbl string) (string, string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" {
		return "", ""
	}
	parts := strings.SplitN(lbl, "-", 2)
	if len(parts) == 1 {
		return "", lbl
	}
	return strings.ToUpper(parts[0]), parts[1]
}

func canonicalLabel(typ string, aliases map[string]string) string {
	up := strings.ToUpper(strings.TrimSpace(typ))
	if alias, ok := aliases[up]; ok && alias != "" {
		return alias
	}
	return up
}

// mergeSpans joins overlapping or touching spans of the same label.
func mergeSpans(in []Span) []Span {
	if len(in) == 0 {
		return nil
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Start == in[j].Start {
			return in[i].End < in[j].End
		}
		return in[i].Start < in[j].Start
	})
	out := make([]Span, 0, len(in))
	cur := in[0]
	for _, sp := range in[1:] {
		if sp.Start <= cur.End && sp.Label == cur.Label {
			if sp.End > cur.End {
				cur.End = sp.End
			}
			continue
		}
		out = append(out, cur)
		cur = sp
	}
	out = append(out, cur)
	return out
}
