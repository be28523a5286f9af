package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/splitlab/splitlab/internal/domain/model"
	"github.com/splitlab/splitlab/pkg/metrics"
)

// defaultShardCount balances lock contention against memory overhead for the
// in-memory store.
const defaultShardCount = 8

// record pairs experiment metadata with its append-only event log.
type record struct {
	exp    model.Experiment
	events []model.Event
}

// shard holds a partition of experiments keyed by id.
type shard struct {
	mu      sync.RWMutex
	records map[string]*record
}

// MemStore is a sharded in-memory Store implementation. Experiments are
// partitioned across shards by id so appends for different experiments do
// not contend on one lock.
type MemStore struct {
	shards     []*shard
	shardCount int
	eventCount int64
	countMu    sync.Mutex
}

// NewMemStore creates a sharded in-memory store with configuration options.
func NewMemStore(_ context.Context, opts ...Option) *MemStore {
	s := &MemStore{
		shardCount: defaultShardCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*record)}
	}
	return s
}

func (s *MemStore) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[int(h.Sum32())%s.shardCount]
}

// CreateExperiment persists a new experiment record.
func (s *MemStore) CreateExperiment(_ context.Context, exp model.Experiment) error {
	sh := s.shardFor(exp.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.records[exp.ID]; exists {
		return ErrExperimentExists
	}
	// Copy the variant and metric slices so later caller mutations cannot
	// reach stored state.
	stored := exp
	stored.Variants = append([]model.Variant(nil), exp.Variants...)
	stored.Metrics = append([]string(nil), exp.Metrics...)
	sh.records[exp.ID] = &record{exp: stored}
	return nil
}

// GetExperiment returns the experiment with the given id.
func (s *MemStore) GetExperiment(_ context.Context, id string) (model.Experiment, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[id]
	if !ok {
		return model.Experiment{}, ErrNotFound
	}
	return cloneExperiment(rec.exp), nil
}

// CompleteExperiment atomically transitions active -> completed.
func (s *MemStore) CompleteExperiment(_ context.Context, id string, winner string, endedAt time.Time) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.exp.Status != model.StatusActive {
		return ErrAlreadyEnded
	}
	rec.exp.Status = model.StatusCompleted
	rec.exp.Winner = winner
	rec.exp.EndedAt = endedAt
	return nil
}

// AppendEvent appends one event to the experiment's log.
func (s *MemStore) AppendEvent(_ context.Context, e model.Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreAppendLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	sh := s.shardFor(e.ExperimentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[e.ExperimentID]
	if !ok {
		return ErrNotFound
	}
	if _, known := rec.exp.Variant(e.VariantID); !known {
		// Data-integrity error: events must reference variants declared at
		// experiment creation. Surfaced, never silently dropped.
		return ErrUnknownVariant
	}
	rec.events = append(rec.events, e)

	s.countMu.Lock()
	s.eventCount++
	s.countMu.Unlock()
	return nil
}

// ListEvents returns a snapshot of all events for an experiment.
func (s *MemStore) ListEvents(_ context.Context, experimentID string) ([]model.Event, error) {
	sh := s.shardFor(experimentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[experimentID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.Event(nil), rec.events...), nil
}

// CountExperiments returns the number of stored experiments.
func (s *MemStore) CountExperiments(_ context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}

// CountEvents returns the total number of stored events.
func (s *MemStore) CountEvents(_ context.Context) int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return int(s.eventCount)
}

func cloneExperiment(exp model.Experiment) model.Experiment {
	out := exp
	out.Variants = append([]model.Variant(nil), exp.Variants...)
	out.Metrics = append([]string(nil), exp.Metrics...)
	return out
}
