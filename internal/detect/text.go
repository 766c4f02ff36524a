package detect

import (
	"context"
	"fmt"

	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/ner"
)

// RequireTextColumn refuses a dataset without the designated text column.
func RequireTextColumn(ds *dataset.Dataset, field string) error {
	if ds != nil && ds.HasColumn(field) {
		return nil
	}
	return fmt.Errorf("%w: descriptive detection needs a %q column", ErrMissingColumns, field)
}

// Text adapts a span labeler to raw spans. It does no type mapping: the
// labeler's label becomes the span type as-is.
type Text struct {
	labeler ner.Labeler
}

// NewText wraps labeler.
func NewText(labeler ner.Labeler) *Text {
	return &Text{labeler: labeler}
}

// Detect labels text and returns the spans in labeler order.
func (t *Text) Detect(ctx context.Context, text string) ([]entity.RawSpan, error) {
	if t == nil || t.labeler == nil {
		return nil, fmt.Errorf("text detector has no labeler")
	}
	spans, err := t.labeler.Label(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("label (%s): %w", t.labeler.Name(), err)
	}
	out := make([]entity.RawSpan, 0, len(spans))
	for _, sp := range spans {
		out = append(out, entity.RawSpan{Value: sp.Text, Type: sp.Label})
	}
	return out, nil
}

// Name identifies the wrapped labeler.
func (t *Text) Name() string {
	if t == nil || t.labeler == nil {
		return ""
	}
	return t.labeler.Name()
}
