package index

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/telemetry"
)

// Sink consumes index batches (Meilisearch, SQLite, JSONL file). Deliver
// must be safe to call from several goroutines.
type Sink interface {
	Name() string
	Deliver(context.Context, *Batch) error
	Close(context.Context) error
}

// Result is the outcome of one sink for one batch.
type Result struct {
	Sink string `json:"sink"`
	Err  error  `json:"-"`
}

// OK reports whether the sink accepted the batch.
func (r Result) OK() bool { return r.Err == nil }

// Metrics is a point-in-time copy of the emitter counters.
type Metrics struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

type sinkCounters struct {
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// EmitterConfig controls worker and queue sizing. DeliverTimeout bounds one
// background delivery across all sinks.
type EmitterConfig struct {
	QueueSize       int                 `yaml:"queue_size"`
	Workers         int                 `yaml:"workers"`
	DeliverTimeout  time.Duration       `yaml:"deliver_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	Telemetry       *telemetry.Provider `yaml:"-"`
}

func (c EmitterConfig) withDefaults() EmitterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Emitter fans a run's batch out to every sink, either queued for background
// workers (Publish) or inline (Deliver). Sinks are delivered to concurrently
// and never affect each other.
type Emitter struct {
	cfg      EmitterConfig
	queue    chan *Batch
	sinks    []Sink
	counters []*sinkCounters

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter starts the background workers.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	cfg = cfg.withDefaults()
	e := &Emitter{
		cfg:      cfg,
		queue:    make(chan *Batch, cfg.QueueSize),
		sinks:    sinks,
		counters: make([]*sinkCounters, len(sinks)),
	}
	for i := range sinks {
		e.counters[i] = &sinkCounters{}
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Sinks lists the configured sink names.
func (e *Emitter) Sinks() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.sinks))
	for i, s := range e.sinks {
		out[i] = s.Name()
	}
	return out
}

// Publish enqueues b without blocking and reports whether it was accepted.
// A full queue or a closed emitter drops the batch.
func (e *Emitter) Publish(b *Batch) bool {
	if e == nil || b == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.closed {
		select {
		case e.queue <- b:
			e.enqueued.Add(1)
			return true
		default:
		}
	}
	e.dropped.Add(1)
	redact.Warnf("index: batch for %s dropped (queue full or closed)", b.Index)
	return false
}

// Deliver sends b to every sink inline. Results are in sink order.
func (e *Emitter) Deliver(ctx context.Context, b *Batch) []Result {
	if e == nil || b == nil {
		return nil
	}
	return e.deliver(ctx, b)
}

// Close stops accepting batches, waits up to ShutdownTimeout for queued ones
// and closes every sink.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Warnf("index: shutdown timed out with batches still queued")
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Warnf("index: sink %s close error: %v", s.Name(), err)
		}
	}
}

// MetricsSnapshot copies the current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	if e == nil {
		return Metrics{}
	}
	m := Metrics{
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: make(map[string]uint64, len(e.sinks)),
		Failed:    make(map[string]uint64, len(e.sinks)),
	}
	for i, s := range e.sinks {
		m.Delivered[s.Name()] = e.counters[i].delivered.Load()
		m.Failed[s.Name()] = e.counters[i].failed.Load()
	}
	return m
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for b := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DeliverTimeout)
		e.deliver(ctx, b)
		cancel()
	}
}

func (e *Emitter) deliver(ctx context.Context, b *Batch) []Result {
	results := make([]Result, len(e.sinks))
	var g errgroup.Group
	for i, s := range e.sinks {
		g.Go(func() error {
			err := s.Deliver(ctx, b)
			results[i] = Result{Sink: s.Name(), Err: err}
			e.record(i, s.Name(), b, err)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Emitter) record(i int, name string, b *Batch, err error) {
	e.cfg.Telemetry.RecordIndex(name, err == nil)
	if err != nil {
		e.counters[i].failed.Add(1)
		redact.Warnf("index: sink %s failed for %s: %v", name, b.Index, err)
		return
	}
	e.counters[i].delivered.Add(1)
	redact.Debugf("index: sink %s indexed %d documents into %s", name, len(b.Documents), b.Index)
}
