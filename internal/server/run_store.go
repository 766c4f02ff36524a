package server

import (
	"sync"
	"time"

	"github.com/straja-ai/piiscope/internal/engine"
	"github.com/straja-ai/piiscope/internal/store"
)

type runStatus string

const (
	statusRunning   runStatus = "running"
	statusCompleted runStatus = "completed"
	statusFailed    runStatus = "failed"
)

// indexResult reports one sink's outcome for the run's search index.
type indexResult struct {
	Sink   string `json:"sink"`
	OK     bool   `json:"ok"`
	Queued bool   `json:"queued,omitempty"`
	Error  string `json:"error,omitempty"`
}

// runEntry is a workspace's slot: the last completed run plus the status of
// the most recent attempt. A failed attempt keeps the previous run.
type runEntry struct {
	status    runStatus
	lastError string
	run       *engine.DetectionRun
	store     *store.Store
	index     []indexResult
	expiresAt time.Time
}

type runStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]runEntry
}

func newRunStore(ttl time.Duration) *runStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &runStore{
		ttl:  ttl,
		now:  time.Now,
		data: make(map[string]runEntry),
	}
}

func (s *runStore) Start(workspace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry := s.data[workspace]
	entry.status = statusRunning
	entry.lastError = ""
	entry.expiresAt = s.now().Add(s.ttl)
	s.data[workspace] = entry
}

func (s *runStore) Complete(workspace string, run *engine.DetectionRun, st *store.Store, idx []indexResult) runEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry := runEntry{
		status:    statusCompleted,
		run:       run,
		store:     st,
		index:     idx,
		expiresAt: s.now().Add(s.ttl),
	}
	s.data[workspace] = entry
	return entry
}

func (s *runStore) Fail(workspace string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry := s.data[workspace]
	entry.status = statusFailed
	if err != nil {
		entry.lastError = err.Error()
	}
	entry.expiresAt = s.now().Add(s.ttl)
	s.data[workspace] = entry
}

// Get returns the workspace's slot and refreshes its expiry.
func (s *runStore) Get(workspace string) (runEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry, ok := s.data[workspace]
	if !ok {
		return runEntry{}, false
	}
	entry.expiresAt = s.now().Add(s.ttl)
	s.data[workspace] = entry
	return entry, true
}

func (s *runStore) cleanupLocked() {
	now := s.now()
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
		}
	}
}
