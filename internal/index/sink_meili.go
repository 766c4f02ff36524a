package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// MeiliConfig points at a Meilisearch instance.
type MeiliConfig struct {
	URL     string        `yaml:"url"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MeiliSink creates one index per run and adds its documents.
type MeiliSink struct {
	base     string
	key      string
	client   *http.Client
	backoffs []time.Duration
}

func NewMeiliSink(cfg MeiliConfig) (*MeiliSink, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("meilisearch url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MeiliSink{
		base:     base,
		key:      cfg.Key,
		client:   &http.Client{Timeout: timeout},
		backoffs: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
	}, nil
}

func (s *MeiliSink) Name() string { return "meilisearch" }

type createIndexRequest struct {
	UID        string `json:"uid"`
	PrimaryKey string `json:"primaryKey"`
}

// Deliver creates the index (an existing index is fine) and posts the
// documents. Meilisearch processes both as asynchronous tasks; a 2xx means
// the task was enqueued.
func (s *MeiliSink) Deliver(ctx context.Context, b *Batch) error {
	if b == nil || len(b.Documents) == 0 {
		return nil
	}
	create, err := json.Marshal(createIndexRequest{UID: b.Index, PrimaryKey: "id"})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := s.post(ctx, "/indexes", create, http.StatusConflict); err != nil {
		return fmt.Errorf("create index %s: %w", b.Index, err)
	}
	docs, err := json.Marshal(b.Documents)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	path := "/indexes/" + url.PathEscape(b.Index) + "/documents?primaryKey=id"
	if err := s.post(ctx, path, docs); err != nil {
		return fmt.Errorf("add documents to %s: %w", b.Index, err)
	}
	return nil
}

func (s *MeiliSink) post(ctx context.Context, path string, payload []byte, okStatus ...int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 0; attempt < len(s.backoffs)+1; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.key != "" {
			req.Header.Set("Authorization", "Bearer "+s.key)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("post: %w", err)
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 || containsStatus(okStatus, resp.StatusCode) {
				return nil
			}
			lastErr = fmt.Errorf("status %d body=%q", resp.StatusCode, truncateBody(body))
			// Client errors will not improve with a retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
		}

		if attempt < len(s.backoffs) {
			timer := time.NewTimer(s.backoffs[attempt])
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (s *MeiliSink) Close(context.Context) error {
	return nil
}

func containsStatus(list []int, code int) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
