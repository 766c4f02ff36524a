// Package classify recommends a detection mode from a dataset's column names.
package classify

import "strings"

// Mode is a detection mode.
type Mode string

const (
	// ModeNone means no recommendation; the caller must choose.
	ModeNone        Mode = ""
	ModeTabular     Mode = "Tabular Data"
	ModeDescriptive Mode = "Descriptive Data"
)

// TextColumn is the column descriptive detection reads from.
const TextColumn = "text"

var (
	textColumns    = []string{TextColumn}
	tabularColumns = []string{"fname", "lname", "email", "phone", "address", "cc_number"}
)

// ParseMode accepts the display names and short aliases ("tabular", "text",
// "descriptive", "ner").
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tabular", "tabular data", "rules":
		return ModeTabular, true
	case "descriptive", "descriptive data", "text", "ner":
		return ModeDescriptive, true
	default:
		return ModeNone, false
	}
}

// Recommend inspects column names (case-insensitive). A text column wins
// over tabular columns when both are present.
func Recommend(columns []string) Mode {
	cols := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		cols[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	if intersects(cols, textColumns) {
		return ModeDescriptive
	}
	if intersects(cols, tabularColumns) {
		return ModeTabular
	}
	return ModeNone
}

func intersects(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}
