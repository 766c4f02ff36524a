// Package ner provides span labelers: external or embedded NLP engines that
// turn free text into (span, label) pairs. The detection engine treats every
// Labeler as opaque and potentially slow.
package ner

import (
	"context"
	"fmt"
	"strings"
)

// Span is one labeled substring. Start/End are byte offsets into the input
// when the backend reports them, otherwise both are -1.
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Labeler labels spans of text. Implementations must be safe for concurrent use.
type Labeler interface {
	Name() string
	Label(ctx context.Context, text string) ([]Span, error)
}

// Backend names accepted by New.
const (
	BackendONNX  = "onnx"
	BackendHTTP  = "http"
	BackendRegex = "regex"
)

// Config selects and configures a labeler backend.
type Config struct {
	Backend string     `yaml:"backend"`
	ONNX    ONNXConfig `yaml:"onnx"`
	HTTP    HTTPConfig `yaml:"http"`
	// Parallelism bounds concurrent Label calls across records.
	Parallelism int `yaml:"parallelism"`
}

// New builds the configured labeler.
func New(cfg Config) (Labeler, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendRegex:
		return NewRegexLabeler(), nil
	case BackendHTTP:
		return NewHTTPLabeler(cfg.HTTP)
	case BackendONNX:
		return LoadONNXLabeler(cfg.ONNX)
	default:
		return nil, fmt.Errorf("unknown ner backend %q", cfg.Backend)
	}
}

// spanText slices text by byte offsets, tolerating out of range values.
func spanText(text string, start, end int) string {
	if start < 0 || end > len(text) || start >= end {
		return ""
	}
	return text[start:end]
}
