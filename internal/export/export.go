// Package export renders entity views and scored datasets into tabular and
// archive formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/store"
)

// EntityHeader is the column order of entity tables.
var EntityHeader = []string{"Entity", "Type", "Risk_Score"}

// RiskColumn is prepended to augmented dataset rows.
const RiskColumn = "Risk_Score"

// EntityRows renders ents as table rows, header excluded.
func EntityRows(ents []entity.Entity) [][]string {
	rows := make([][]string, 0, len(ents))
	for _, e := range ents {
		rows = append(rows, []string{e.Value, e.Type, strconv.Itoa(e.RiskScore)})
	}
	return rows
}

// WriteEntitiesCSV writes ents with a header row.
func WriteEntitiesCSV(w io.Writer, ents []entity.Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EntityHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(EntityRows(ents)); err != nil {
		return fmt.Errorf("write entities: %w", err)
	}
	return nil
}

// Scored is the subset of a detection run the augmented dataset needs.
type Scored struct {
	Dataset      *dataset.Dataset
	RecordIndex  []int
	RecordScores []int
}

// AugmentedHeader is Risk_Score followed by the dataset's columns. A column
// already named Risk_Score is dropped in favour of the computed one.
func AugmentedHeader(ds *dataset.Dataset) []string {
	cols := ds.Columns()
	out := make([]string, 0, len(cols)+1)
	out = append(out, RiskColumn)
	for _, c := range cols {
		if c != RiskColumn {
			out = append(out, c)
		}
	}
	return out
}

// AugmentedRows renders every record that took part in the run with its
// score first.
func AugmentedRows(s Scored) [][]string {
	if s.Dataset == nil {
		return nil
	}
	cols := s.Dataset.Columns()
	rows := make([][]string, 0, len(s.RecordIndex))
	for pos, idx := range s.RecordIndex {
		score := 0
		if pos < len(s.RecordScores) {
			score = s.RecordScores[pos]
		}
		values := s.Dataset.Record(idx).Values()
		row := make([]string, 0, len(values)+1)
		row = append(row, strconv.Itoa(score))
		for i, v := range values {
			if cols[i] != RiskColumn {
				row = append(row, v)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteAugmentedCSV writes the scored dataset.
func WriteAugmentedCSV(w io.Writer, s Scored) error {
	if s.Dataset == nil {
		return fmt.Errorf("no dataset to export")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(AugmentedHeader(s.Dataset)); err != nil {
		return err
	}
	if err := cw.WriteAll(AugmentedRows(s)); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}

// WordText joins the displayed values of v with spaces, for word clouds.
// Redacted entities contribute the sentinel like any other value.
func WordText(v store.View) string {
	all := v.All()
	parts := make([]string, 0, len(all))
	for _, e := range all {
		if e.Value != "" {
			parts = append(parts, e.Value)
		}
	}
	return strings.Join(parts, " ")
}
