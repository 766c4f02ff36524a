package taxonomy

import (
	"sort"
	"strings"
)

// Group is one of the two entity partitions.
type Group string

const (
	GroupPII Group = "PII"
	GroupHII Group = "HII"
)

const (
	// DefaultWeight is the risk weight of any type missing from the table.
	DefaultWeight = 1
	// UnknownCategory is the display category of unmapped NLP labels.
	UnknownCategory = "Unknown"
)

// Config is the injectable form of the taxonomy, usually read from YAML.
// Empty sections fall back to the built-in tables.
type Config struct {
	RiskWeights     map[string]int    `yaml:"risk_weights"`
	LabelCategories map[string]string `yaml:"label_categories"`
	PIITypes        []string          `yaml:"pii_types"`
	HIITypes        []string          `yaml:"hii_types"`
}

// Taxonomy maps entity types to risk weights and groups, and NLP labels to
// display categories. It is immutable once built and safe for concurrent use.
type Taxonomy struct {
	weights    map[string]int
	categories map[string]string
	groups     map[string]Group
	piiTypes   []string
	hiiTypes   []string
}

var defaultWeights = map[string]int{
	"EMAIL":              2,
	"PHONE":              2,
	"CREDIT_CARD":        5,
	"ADDRESS":            3,
	"ID":                 4,
	"NAME":               1,
	"BLOOD_TYPE":         1,
	"WEIGHT":             1,
	"HEIGHT":             1,
	"ALLERGIES":          2,
	"MEDICAL_CONDITIONS": 4,
	"MEDICATIONS":        3,
	"DOCTOR":             2,
	"HOSPITAL":           2,
	"INSURANCE":          3,
}

var defaultCategories = map[string]string{
	"PERSON":  "Person",
	"ORG":     "Company",
	"EMAIL":   "Contact",
	"PHONE":   "Contact",
	"GPE":     "Location",
	"LOC":     "Location",
	"DATE":    "Time",
	"TIME":    "Time",
	"MONEY":   "Financial",
	"FAC":     "Other",
	"NORP":    "Other",
	"PRODUCT": "Other",
}

var (
	defaultPII = []string{"ID", "NAME", "EMAIL", "PHONE", "ADDRESS", "CREDIT_CARD"}
	defaultHII = []string{"BLOOD_TYPE", "WEIGHT", "HEIGHT", "ALLERGIES", "MEDICAL_CONDITIONS", "MEDICATIONS", "DOCTOR", "HOSPITAL", "INSURANCE"}
)

// Default returns the built-in taxonomy.
func Default() *Taxonomy {
	return New(Config{})
}

// DefaultConfig returns a copy of the built-in tables.
func DefaultConfig() Config {
	cfg := Config{
		RiskWeights:     make(map[string]int, len(defaultWeights)),
		LabelCategories: make(map[string]string, len(defaultCategories)),
		PIITypes:        append([]string(nil), defaultPII...),
		HIITypes:        append([]string(nil), defaultHII...),
	}
	for k, v := range defaultWeights {
		cfg.RiskWeights[k] = v
	}
	for k, v := range defaultCategories {
		cfg.LabelCategories[k] = v
	}
	return cfg
}

// New builds a taxonomy from cfg. Keys are upper-cased and trimmed.
func New(cfg Config) *Taxonomy {
	weights := cfg.RiskWeights
	if len(weights) == 0 {
		weights = defaultWeights
	}
	categories := cfg.LabelCategories
	if len(categories) == 0 {
		categories = defaultCategories
	}
	pii := cfg.PIITypes
	if len(pii) == 0 {
		pii = defaultPII
	}
	hii := cfg.HIITypes
	if len(hii) == 0 {
		hii = defaultHII
	}

	t := &Taxonomy{
		weights:    make(map[string]int, len(weights)),
		categories: make(map[string]string, len(categories)),
		groups:     make(map[string]Group, len(pii)+len(hii)),
	}
	for k, v := range weights {
		t.weights[canonical(k)] = v
	}
	for k, v := range categories {
		t.categories[canonical(k)] = v
	}
	for _, typ := range pii {
		c := canonical(typ)
		if c == "" {
			continue
		}
		t.groups[c] = GroupPII
		t.piiTypes = append(t.piiTypes, c)
	}
	for _, typ := range hii {
		c := canonical(typ)
		if c == "" {
			continue
		}
		t.groups[c] = GroupHII
		t.hiiTypes = append(t.hiiTypes, c)
	}
	return t
}

func canonical(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Weight returns the risk weight for typ, or DefaultWeight when unmapped.
// Lookup is case-insensitive.
func (t *Taxonomy) Weight(typ string) int {
	if t == nil {
		return DefaultWeight
	}
	if w, ok := t.weights[canonical(typ)]; ok {
		return w
	}
	return DefaultWeight
}

// Category returns the display category for an NLP label.
func (t *Taxonomy) Category(label string) string {
	if t == nil {
		return UnknownCategory
	}
	if c, ok := t.categories[canonical(label)]; ok {
		return c
	}
	return UnknownCategory
}

// GroupOf reports which group a type belongs to.
func (t *Taxonomy) GroupOf(typ string) (Group, bool) {
	if t == nil {
		return "", false
	}
	g, ok := t.groups[canonical(typ)]
	return g, ok
}

// Types lists the member types of g in configuration order.
func (t *Taxonomy) Types(g Group) []string {
	if t == nil {
		return nil
	}
	switch g {
	case GroupPII:
		return append([]string(nil), t.piiTypes...)
	case GroupHII:
		return append([]string(nil), t.hiiTypes...)
	default:
		return nil
	}
}

// Weights returns a copy of the weight table.
func (t *Taxonomy) Weights() map[string]int {
	out := make(map[string]int, len(t.weights))
	for k, v := range t.weights {
		out[k] = v
	}
	return out
}

type titleBucket struct {
	name  string
	types []string
}

var titleBuckets = []titleBucket{
	{"PII", defaultPII},
	{"HII", defaultHII},
	{"Contact Info", []string{"EMAIL", "PHONE"}},
	{"Demographics", []string{"GPE", "LOC", "ZIP", "COUNTRY", "STATE", "CITY"}},
	{"Identity", []string{"PERSON"}},
	{"Organizations", []string{"ORG", "FAC", "PRODUCT"}},
	{"Finance", []string{"MONEY"}},
}

// Title names the kind of data a detection found, e.g. "Contact Info & PII".
func Title(types []string) string {
	seen := make(map[string]struct{}, len(types))
	for _, typ := range types {
		seen[canonical(typ)] = struct{}{}
	}
	var matched []string
	for _, b := range titleBuckets {
		for _, typ := range b.types {
			if _, ok := seen[typ]; ok {
				matched = append(matched, b.name)
				break
			}
		}
	}
	if len(matched) == 0 {
		return "Uncategorized Entities"
	}
	sort.Strings(matched)
	return strings.Join(matched, " & ")
}
