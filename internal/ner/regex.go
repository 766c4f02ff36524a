package ner

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

type regexRule struct {
	label    string
	re       *regexp.Regexp
	validate func(string) bool
}

// RegexLabeler finds contact and financial identifiers with fixed patterns.
// It needs no model and is the default backend.
type RegexLabeler struct {
	rules []regexRule
}

// NewRegexLabeler builds the pattern set. Rule order is priority order when
// matches overlap.
func NewRegexLabeler() *RegexLabeler {
	return &RegexLabeler{
		rules: []regexRule{
			{
				label: "EMAIL",
				re:    regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			},
			{
				label:    "CREDIT_CARD",
				re:       regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
				validate: luhnValid,
			},
			{
				label: "IBAN",
				re:    regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			},
			{
				label: "PHONE",
				re:    regexp.MustCompile(`\+?\(?\d[\d\s\-().]{7,}\d`),
			},
		},
	}
}

func (l *RegexLabeler) Name() string { return BackendRegex }

// Label returns non-overlapping matches ordered by position.
func (l *RegexLabeler) Label(ctx context.Context, text string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	type candidate struct {
		Span
		priority int
	}
	var cands []candidate
	for prio, rule := range l.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.validate != nil && !rule.validate(match) {
				continue
			}
			cands = append(cands, candidate{
				Span:     Span{Text: match, Label: rule.label, Start: loc[0], End: loc[1]},
				priority: prio,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Start != cands[j].Start {
			return cands[i].Start < cands[j].Start
		}
		return cands[i].priority < cands[j].priority
	})

	var out []Span
	end := -1
	for _, c := range cands {
		if c.Start < end {
			continue
		}
		out = append(out, c.Span)
		end = c.End
	}
	return out, nil
}

func luhnValid(s string) bool {
	sum := 0
	digits := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c == ' ' || c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		digits++
	}
	return digits >= 13 && digits <= 19 && sum%10 == 0
}
