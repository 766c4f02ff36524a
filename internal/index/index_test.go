package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/straja-ai/piiscope/internal/entity"
)

func TestDocumentsSkipBlanksWithoutConsumingIDs(t *testing.T) {
	pii := []entity.Entity{
		{Value: "a@x.com", Type: "EMAIL"},
		{Value: "  ", Type: "PHONE"},
		{Value: "555-1234", Type: "PHONE"},
	}
	hii := []entity.Entity{
		{Value: "O+", Type: "BLOOD_TYPE"},
		{Value: "aspirin", Type: ""},
	}
	docs := Documents(pii, hii)
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	want := []Document{
		{ID: 0, Entity: "a@x.com", Type: "EMAIL"},
		{ID: 1, Entity: "555-1234", Type: "PHONE"},
		{ID: 2, Entity: "O+", Type: "BLOOD_TYPE"},
	}
	for i := range want {
		if docs[i] != want[i] {
			t.Fatalf("doc %d: expected %+v, got %+v", i, want[i], docs[i])
		}
	}
}

func TestNewBatchIndexName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	b := NewBatch("01HF3Z9QK8", at, nil, nil)
	if b.Index != "pii_hii_data_20231114_221320_01HF3Z9QK8" {
		t.Fatalf("unexpected index name %q", b.Index)
	}
	if len(b.Documents) != 0 {
		t.Fatalf("expected no documents, got %d", len(b.Documents))
	}
}

func TestIndexName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		runID string
		want  string
	}{
		{"", "pii_hii_data_20231114_221320"},
		{"run-1", "pii_hii_data_20231114_221320_run-1"},
		{"a b/c.d", "pii_hii_data_20231114_221320_a_b_c_d"},
	}
	for _, tt := range tests {
		if got := IndexName(tt.runID, at); got != tt.want {
			t.Fatalf("IndexName(%q) = %q, want %q", tt.runID, got, tt.want)
		}
	}
}

func TestSQLiteSameSecondRunsStayApart(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close(ctx) })

	at := time.Unix(1767268800, 0)
	a := NewBatch("01JGRUNA", at, []entity.Entity{{Value: "alice@a.com", Type: "EMAIL"}}, nil)
	b := NewBatch("01JGRUNB", at.Add(800*time.Millisecond), []entity.Entity{{Value: "bob@b.com", Type: "EMAIL"}}, nil)
	if a.Index == b.Index {
		t.Fatalf("runs in the same second share index %q", a.Index)
	}
	for _, batch := range []*Batch{a, b} {
		if err := sink.Deliver(ctx, batch); err != nil {
			t.Fatalf("deliver %s: %v", batch.Index, err)
		}
	}

	hits, err := sink.Search(ctx, a.Index, "alice", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].RunID != "01JGRUNA" {
		t.Fatalf("first run lost its documents: %+v", hits)
	}
	hits, err = sink.Search(ctx, a.Index, "bob", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("second run visible through first run's index: %+v", hits)
	}
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "entities.jsonl")
	sink, err := NewFileSink(FileConfig{Path: path})
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	b := NewBatch("run-1", time.Unix(10, 0), []entity.Entity{{Value: "a@x.com", Type: "EMAIL"}}, []entity.Entity{{Value: "O+", Type: "BLOOD_TYPE"}})
	if err := sink.Deliver(context.Background(), b); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded struct {
		Index  string `json:"index"`
		RunID  string `json:"run_id"`
		ID     int    `json:"id"`
		Entity string `json:"Entity"`
		Type   string `json:"Type"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if decoded.Index != "pii_hii_data_19700101_000010_run-1" || decoded.RunID != "run-1" || decoded.ID != 1 || decoded.Type != "BLOOD_TYPE" {
		t.Fatalf("unexpected line: %+v", decoded)
	}
}

func TestFileSinkRotatingAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1})
		if err != nil {
			t.Fatalf("file sink: %v", err)
		}
		b := NewBatch(fmt.Sprintf("run-%d", i), time.Unix(int64(i), 0), []entity.Entity{{Value: "a@x.com", Type: "EMAIL"}}, nil)
		if err := sink.Deliver(context.Background(), b); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if err := sink.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := sink.Deliver(context.Background(), b); err == nil {
			t.Fatalf("expected deliver after close to fail")
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Fatalf("expected both runs appended, got %d lines:\n%s", n, data)
	}
}

func TestMeiliSinkCreatesIndexThenDocuments(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var auth []string
	var docBody []byte
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.RequestURI())
		auth = append(auth, r.Header.Get("Authorization"))
		if strings.Contains(r.URL.Path, "/documents") {
			docBody = body
		}
		mu.Unlock()
		if r.URL.Path == "/indexes" {
			// Already exists.
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	sink, err := NewMeiliSink(MeiliConfig{URL: srv.URL + "/", Key: "master", Timeout: time.Second})
	if err != nil {
		t.Fatalf("meili sink: %v", err)
	}
	b := NewBatch("run-1", time.Unix(42, 0), []entity.Entity{{Value: "a@x.com", Type: "EMAIL"}}, nil)
	if err := sink.Deliver(context.Background(), b); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 {
		t.Fatalf("expected 2 requests, got %v", paths)
	}
	if paths[0] != "/indexes" || paths[1] != "/indexes/pii_hii_data_19700101_000042_run-1/documents?primaryKey=id" {
		t.Fatalf("unexpected request order: %v", paths)
	}
	for _, a := range auth {
		if a != "Bearer master" {
			t.Fatalf("expected bearer key, got %q", a)
		}
	}
	var docs []Document
	if err := json.Unmarshal(docBody, &docs); err != nil {
		t.Fatalf("decode documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Entity != "a@x.com" {
		t.Fatalf("unexpected documents: %+v", docs)
	}
}

func TestMeiliSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	sink, err := NewMeiliSink(MeiliConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("meili sink: %v", err)
	}
	sink.backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	b := NewBatch("run-1", time.Unix(1, 0), []entity.Entity{{Value: "a@x.com", Type: "EMAIL"}}, nil)
	if err := sink.Deliver(context.Background(), b); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls (retry + documents), got %d", got)
	}
}

func TestMeiliSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"invalid_api_key"}`))
	}))
	sink, err := NewMeiliSink(MeiliConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("meili sink: %v", err)
	}
	sink.backoffs = []time.Duration{time.Millisecond}

	b := NewBatch("run-1", time.Unix(1, 0), []entity.Entity{{Value: "a@x.com", Type: "EMAIL"}}, nil)
	err = sink.Deliver(context.Background(), b)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestMeiliSinkSkipsEmptyBatch(t *testing.T) {
	sink, err := NewMeiliSink(MeiliConfig{URL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("meili sink: %v", err)
	}
	if err := sink.Deliver(context.Background(), NewBatch("r", time.Unix(1, 0), nil, nil)); err != nil {
		t.Fatalf("empty batch should not hit the network: %v", err)
	}
	if _, err := NewMeiliSink(MeiliConfig{URL: "  "}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestSQLiteSinkDeliverAndSearch(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close(ctx) })

	first := NewBatch("run-1", time.Unix(100, 0),
		[]entity.Entity{{Value: "jane.doe@example.com", Type: "EMAIL"}, {Value: "Jane Doe", Type: "NAME"}},
		[]entity.Entity{{Value: "penicillin", Type: "ALLERGIES"}},
	)
	second := NewBatch("run-2", time.Unix(200, 0),
		[]entity.Entity{{Value: "John Doe", Type: "NAME"}}, nil,
	)
	for _, b := range []*Batch{first, second} {
		if err := sink.Deliver(ctx, b); err != nil {
			t.Fatalf("deliver %s: %v", b.Index, err)
		}
	}

	hits, err := sink.Search(ctx, "", "Doe", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits across runs, got %+v", hits)
	}

	hits, err = sink.Search(ctx, first.Index, "penicillin", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].RunID != "run-1" || hits[0].ID != 2 || hits[0].Type != "ALLERGIES" {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	// Re-delivering an index replaces its documents.
	first.Documents = first.Documents[:1]
	if err := sink.Deliver(ctx, first); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	hits, err = sink.Search(ctx, first.Index, "penicillin", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected replaced documents, got %+v", hits)
	}

	hits, err = sink.Search(ctx, "", `"quoted`, 10)
	if err != nil {
		t.Fatalf("search with quote: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
	if hits, _ := sink.Search(ctx, "", "  ", 10); hits != nil {
		t.Fatalf("blank query should return nil")
	}
}

func TestOpenSQLiteMemory(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sink.Close(ctx)
	b := NewBatch("run-1", time.Unix(5, 0), []entity.Entity{{Value: "4111 1111 1111 1111", Type: "CREDIT_CARD"}}, nil)
	if err := sink.Deliver(ctx, b); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	hits, err := sink.Search(ctx, b.Index, "CREDIT_CARD", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected type match, got %+v", hits)
	}
	if _, err := OpenSQLite(ctx, ""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

type fakeSink struct {
	name string
	err  error

	mu      sync.Mutex
	batches []*Batch
	closed  bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, b *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	return f.err
}

func (f *fakeSink) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestEmitterDeliverReportsPerSink(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("down")}
	em := NewEmitter(EmitterConfig{}, []Sink{ok, bad})
	defer em.Close(context.Background())

	results := em.Deliver(context.Background(), NewBatch("r", time.Unix(1, 0), nil, nil))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].OK() || results[1].OK() {
		t.Fatalf("unexpected results: %+v", results)
	}
	m := em.MetricsSnapshot()
	if m.Delivered["ok"] != 1 || m.Failed["bad"] != 1 || m.Failed["ok"] != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if got := em.Sinks(); len(got) != 2 || got[0] != "ok" {
		t.Fatalf("unexpected sinks %v", got)
	}
}

func TestEmitterPublishDrainsOnClose(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 2}, []Sink{sink})
	for i := 0; i < 5; i++ {
		if !em.Publish(NewBatch("r", time.Unix(int64(i), 0), nil, nil)) {
			t.Fatalf("publish %d rejected", i)
		}
	}
	em.Close(context.Background())

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 delivered batches, got %d", got)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
	if em.Publish(NewBatch("r", time.Unix(9, 0), nil, nil)) {
		t.Fatalf("publish after close should be rejected")
	}
	m := em.MetricsSnapshot()
	if m.Enqueued != 5 || m.Dropped != 1 || m.Delivered["fake"] != 5 {
		t.Fatalf("unexpected counters %+v", m)
	}
}

type slowSink struct {
	fakeSink
	release chan struct{}
}

func (s *slowSink) Deliver(ctx context.Context, b *Batch) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeSink.Deliver(ctx, b)
}

func TestEmitterSinksDoNotBlockEachOther(t *testing.T) {
	slow := &slowSink{fakeSink: fakeSink{name: "slow"}, release: make(chan struct{})}
	fast := &fakeSink{name: "fast"}
	em := NewEmitter(EmitterConfig{}, []Sink{slow, fast})
	defer em.Close(context.Background())

	done := make(chan []Result)
	go func() { done <- em.Deliver(context.Background(), NewBatch("r", time.Unix(1, 0), nil, nil)) }()

	deadline := time.After(2 * time.Second)
	for fast.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("fast sink waited on slow sink")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(slow.release)
	results := <-done
	if len(results) != 2 || results[0].Sink != "slow" || results[1].Sink != "fast" {
		t.Fatalf("results must follow sink order, got %+v", results)
	}
}

func TestEmitterDeliverTimeout(t *testing.T) {
	slow := &slowSink{fakeSink: fakeSink{name: "slow"}, release: make(chan struct{})}
	em := NewEmitter(EmitterConfig{DeliverTimeout: 20 * time.Millisecond}, []Sink{slow})
	if !em.Publish(NewBatch("r", time.Unix(1, 0), nil, nil)) {
		t.Fatal("publish rejected")
	}
	em.Close(context.Background())
	if m := em.MetricsSnapshot(); m.Failed["slow"] != 1 {
		t.Fatalf("expected timed-out delivery to count as failure, got %+v", m)
	}
}

func TestNilEmitterIsSafe(t *testing.T) {
	var em *Emitter
	if em.Publish(&Batch{}) {
		t.Fatalf("nil emitter should not accept")
	}
	if res := em.Deliver(context.Background(), &Batch{}); res != nil {
		t.Fatalf("expected nil results")
	}
	em.Close(context.Background())
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
