// Package detect extracts raw entity spans from records: a fixed field
// mapping for tabular data and an NLP labeler for free text.
package detect

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

// ErrMissingColumns is the precondition failure for a dataset that cannot
// feed the selected detector.
var ErrMissingColumns = errors.New("required columns missing")

// RequiredTabularColumns must have at least one member present as a column.
var RequiredTabularColumns = []string{"fname", "lname", "email", "phone"}

// Outcome is the per-field extraction result.
type Outcome int

const (
	// Absent: none of the rule's columns exist in the record.
	Absent Outcome = iota
	// Blank: the columns exist but carry no value.
	Blank
	// Present: a value was extracted.
	Present
	// Invalid: a value exists but cannot be used (not valid UTF-8).
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Absent:
		return "absent"
	case Blank:
		return "blank"
	case Present:
		return "present"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Rule maps one or more columns onto a type tag.
type Rule struct {
	Type   string
	Group  taxonomy.Group
	Fields []string
	join   func(parts []string) string
}

// FieldResult records what one rule produced for one record.
type FieldResult struct {
	Type    string
	Group   taxonomy.Group
	Outcome Outcome
	Value   string
	Err     error
}

// TabularRules is the fixed mapping, in output order.
var TabularRules = []Rule{
	{Type: "ID", Group: taxonomy.GroupPII, Fields: []string{"id"}},
	{Type: "NAME", Group: taxonomy.GroupPII, Fields: []string{"fname", "lname"}, join: joinName},
	{Type: "EMAIL", Group: taxonomy.GroupPII, Fields: []string{"email"}},
	{Type: "PHONE", Group: taxonomy.GroupPII, Fields: []string{"phone"}},
	{Type: "ADDRESS", Group: taxonomy.GroupPII, Fields: []string{"address", "city", "state", "zip"}, join: joinAddress},
	{Type: "CREDIT_CARD", Group: taxonomy.GroupPII, Fields: []string{"cc_number"}},
	{Type: "BLOOD_TYPE", Group: taxonomy.GroupHII, Fields: []string{"blood_type"}},
	{Type: "WEIGHT", Group: taxonomy.GroupHII, Fields: []string{"weight_kg"}},
	{Type: "HEIGHT", Group: taxonomy.GroupHII, Fields: []string{"height_cm"}},
	{Type: "ALLERGIES", Group: taxonomy.GroupHII, Fields: []string{"allergies"}},
	{Type: "MEDICAL_CONDITIONS", Group: taxonomy.GroupHII, Fields: []string{"medical_conditions"}},
	{Type: "MEDICATIONS", Group: taxonomy.GroupHII, Fields: []string{"medications"}},
	{Type: "DOCTOR", Group: taxonomy.GroupHII, Fields: []string{"doctor_name"}},
	{Type: "HOSPITAL", Group: taxonomy.GroupHII, Fields: []string{"hospital_name"}},
	{Type: "INSURANCE", Group: taxonomy.GroupHII, Fields: []string{"insurance_provider"}},
}

// RequireTabularColumns refuses a dataset with none of RequiredTabularColumns.
func RequireTabularColumns(ds *dataset.Dataset) error {
	for _, c := range RequiredTabularColumns {
		if ds != nil && ds.HasColumn(c) {
			return nil
		}
	}
	return fmt.Errorf("%w: tabular detection needs at least one of %s", ErrMissingColumns, strings.Join(RequiredTabularColumns, ", "))
}

// TabularResult is the detector output for one record. PII and HII hold one
// span per rule of that group in rule order; non-present rules contribute an
// empty span.
type TabularResult struct {
	PII    []entity.RawSpan
	HII    []entity.RawSpan
	Fields []FieldResult
}

// Tabular runs the fixed rules over one record.
func Tabular(rec dataset.Record) TabularResult {
	var res TabularResult
	for _, rule := range TabularRules {
		fr := rule.Extract(rec)
		res.Fields = append(res.Fields, fr)
		span := entity.RawSpan{Type: rule.Type, Field: strings.Join(rule.Fields, "+")}
		if fr.Outcome == Present {
			span.Value = fr.Value
		}
		if rule.Group == taxonomy.GroupHII {
			res.HII = append(res.HII, span)
		} else {
			res.PII = append(res.PII, span)
		}
	}
	return res
}

// Extract evaluates the rule against rec. It never fails the record: an
// unusable value is reported as Invalid with Err set.
func (r Rule) Extract(rec dataset.Record) FieldResult {
	fr := FieldResult{Type: r.Type, Group: r.Group, Outcome: Absent}
	parts := make([]string, len(r.Fields))
	seen := false
	for i, name := range r.Fields {
		f := rec.Field(name)
		switch f.State {
		case dataset.FieldAbsent:
			continue
		case dataset.FieldBlank:
			seen = true
			continue
		}
		seen = true
		if !utf8.ValidString(f.Value) {
			fr.Outcome = Invalid
			fr.Err = fmt.Errorf("column %q: invalid UTF-8", name)
			return fr
		}
		parts[i] = f.Value
	}
	if !seen {
		return fr
	}

	var value string
	if r.join != nil {
		value = r.join(parts)
	} else {
		value = parts[0]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		fr.Outcome = Blank
		return fr
	}
	fr.Outcome = Present
	fr.Value = value
	return fr
}

// joinName renders "fname lname" from whichever halves exist.
func joinName(parts []string) string {
	return joinNonEmpty(" ", parts...)
}

// joinAddress renders "address, city, state zip".
func joinAddress(parts []string) string {
	var address, city, state, zip string
	switch len(parts) {
	case 4:
		address, city, state, zip = parts[0], parts[1], parts[2], parts[3]
	default:
		return joinNonEmpty(", ", parts...)
	}
	return joinNonEmpty(", ", address, city, joinNonEmpty(" ", state, zip))
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
