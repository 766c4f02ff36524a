package ner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPConfig points at an NER sidecar exposing POST /classify.
type HTTPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"api_key"`
}

// HTTPLabeler calls an NER sidecar over HTTP.
type HTTPLabeler struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPLabeler creates a labeler for the sidecar at cfg.URL
// (e.g. "http://ner:8001").
func NewHTTPLabeler(cfg HTTPConfig) (*HTTPLabeler, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("ner http url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLabeler{
		url:    base + "/classify",
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (l *HTTPLabeler) Name() string { return BackendHTTP }

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []sidecarSpan `json:"spans"`
}

type sidecarSpan struct {
	Start *int   `json:"start"`
	End   *int   `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Label sends text to the sidecar. Unlike a best-effort sanitizer, failures
// are returned so the caller can isolate the record.
func (l *HTTPLabeler) Label(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("ner: status %d body=%q", resp.StatusCode, string(msg))
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	spans := make([]Span, 0, len(result.Spans))
	for _, s := range result.Spans {
		sp := Span{Label: s.Label, Text: s.Text, Start: -1, End: -1}
		if s.Start != nil && s.End != nil {
			sp.Start, sp.End = *s.Start, *s.End
			if sp.Text == "" {
				sp.Text = spanText(text, sp.Start, sp.End)
			}
		}
		spans = append(spans, sp)
	}
	return spans, nil
}
