package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the JSONL sink. MaxSizeMB > 0 rotates the file with
// lumberjack; otherwise it grows without bound.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// FileSink appends one JSON line per document, tagged with the index name
// and run, for offline ingestion. A batch is written in a single call so
// concurrent runs never interleave lines.
type FileSink struct {
	path string

	mu sync.Mutex
	w  io.WriteCloser
}

type fileLine struct {
	Index string `json:"index"`
	Run   string `json:"run_id"`
	Document
}

// NewFileSink opens (or creates) cfg.Path for appending.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	if cfg.MaxSizeMB > 0 {
		return &FileSink{path: cfg.Path, w: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}}, nil
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &FileSink{path: cfg.Path, w: f}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

func (s *FileSink) Deliver(_ context.Context, b *Batch) error {
	if b == nil || len(b.Documents) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range b.Documents {
		if err := enc.Encode(fileLine{Index: b.Index, Run: b.RunID, Document: doc}); err != nil {
			return fmt.Errorf("encode document %d: %w", doc.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("file sink closed")
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
