// Package service provides the core experiment manager that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/splitlab/splitlab/internal/adapters/mq/queue"
	workerpool "github.com/splitlab/splitlab/internal/adapters/mq/worker"
	repository "github.com/splitlab/splitlab/internal/adapters/repository"
	"github.com/splitlab/splitlab/internal/domain/assign"
	"github.com/splitlab/splitlab/internal/domain/dedupe"
	"github.com/splitlab/splitlab/internal/domain/model"
	"github.com/splitlab/splitlab/internal/domain/stats"
	"github.com/splitlab/splitlab/internal/domain/types"
	"github.com/splitlab/splitlab/pkg/logger"
	"github.com/splitlab/splitlab/pkg/metrics"
)

const (
	defaultQueueSize           = 100000
	defaultDedupeSize          = 500000
	defaultMaxVariants         = 10
	defaultDurationDays        = 14
	defaultBaseURL             = "http://localhost:9080"
	defaultTrackEndpoint       = "/events"
	defaultConversionMetric    = "conversion"
	workerShutdownGracePeriod  = 10 * time.Second
	defaultWorkerCPUMultiplier = 2
)

// VariantConfig is one variant arm as submitted at creation time.
type VariantConfig struct {
	ID     string
	Weight float64
	URL    string
}

// CreateConfig is the experiment definition accepted by CreateExperiment.
type CreateConfig struct {
	SubjectID    string
	Variants     []VariantConfig
	Metrics      []string
	DurationDays int
}

// CreateResult is what a successful creation hands back to the caller.
type CreateResult struct {
	Experiment      model.Experiment
	TrackingSnippet string
	DashboardURL    string
}

// EndResult captures the final outcome of an ended experiment.
type EndResult struct {
	Winner  string
	Results []types.VariantResult
}

// Service implements the API dependencies for the experiment manager.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	workerPool *workerpool.Pool

	// Active-experiment registry. A read-through cache in front of the
	// store, which stays the source of truth for status.
	registry map[string]model.Experiment

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	shardCount    int
	baseURL       string
	trackEndpoint string
	maxVariants   int
	durationDays  int

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a store instead of the default in-memory one.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShardCount sets the shard count of the default store.
func WithShardCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// WithBaseURL sets the public base URL used in dashboard links and the
// tracking snippet endpoint.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		if baseURL != "" {
			s.baseURL = baseURL
		}
	}
}

// WithTrackEndpoint sets the path event POSTs are sent to.
func WithTrackEndpoint(endpoint string) Option {
	return func(s *Service) {
		if endpoint != "" {
			s.trackEndpoint = endpoint
		}
	}
}

// WithMaxVariants caps how many variants one experiment may declare.
func WithMaxVariants(max int) Option {
	return func(s *Service) {
		if max > 1 {
			s.maxVariants = max
		}
	}
}

// WithDefaultDuration sets the advisory duration applied when a creation
// request omits one.
func WithDefaultDuration(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.durationDays = days
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU() * defaultWorkerCPUMultiplier,
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		baseURL:       defaultBaseURL,
		trackEndpoint: defaultTrackEndpoint,
		maxVariants:   defaultMaxVariants,
		durationDays:  defaultDurationDays,
		registry:      make(map[string]model.Experiment),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting experiment service...")

	if s.store == nil {
		s.store = repository.NewMemStore(ctx,
			repository.WithShardCount(s.shardCount),
		)
		s.logger.Info(ctx, "using in-memory store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.store)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "experiment service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

// Stop gracefully shuts down the service. The queue is closed first so the
// workers can drain what is already buffered before the grace period ends.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping experiment service...")

	if q, ok := s.eventQueue.(*eventqueue.InMemoryQueue); ok {
		_ = q.Close()
	}

	if s.workerPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), workerShutdownGracePeriod)
		s.workerPool.Stop(ctx)
		cancel()
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(context.Background(), "experiment service stopped")
}

// CreateExperiment validates the configuration, persists a new active
// experiment, and returns it along with its tracking snippet and dashboard
// link.
func (s *Service) CreateExperiment(ctx context.Context, cfg CreateConfig) (CreateResult, error) {
	if err := s.validateCreate(cfg); err != nil {
		metrics.RecordEventRejected("invalid_experiment")
		return CreateResult{}, err
	}

	now := time.Now().UTC()
	exp := model.Experiment{
		ID:           uuid.NewString(),
		SubjectID:    cfg.SubjectID,
		Variants:     make([]model.Variant, len(cfg.Variants)),
		Metrics:      cfg.Metrics,
		DurationDays: cfg.DurationDays,
		Status:       model.StatusActive,
		StartedAt:    now,
	}
	for i, v := range cfg.Variants {
		exp.Variants[i] = model.Variant{ID: v.ID, Weight: v.Weight, URL: v.URL}
	}
	if exp.DurationDays == 0 {
		exp.DurationDays = s.durationDays
	}
	if len(exp.Metrics) == 0 {
		exp.Metrics = []string{defaultConversionMetric}
	}

	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return CreateResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	s.registry[exp.ID] = exp
	active := len(s.registry)
	s.mu.Unlock()

	metrics.RecordExperimentCreated()
	metrics.UpdateActiveExperiments(active)

	snippet, err := s.renderSnippet(exp)
	if err != nil {
		return CreateResult{}, err
	}

	s.logger.Info(ctx, "experiment created",
		logger.String("experimentID", exp.ID),
		logger.String("subjectID", exp.SubjectID),
		logger.Int("variants", len(exp.Variants)),
	)

	return CreateResult{
		Experiment:      exp,
		TrackingSnippet: snippet,
		DashboardURL:    fmt.Sprintf("%s/dashboard?experiment=%s", s.baseURL, exp.ID),
	}, nil
}

func (s *Service) validateCreate(cfg CreateConfig) error {
	if cfg.SubjectID == "" {
		return fmt.Errorf("%w: subject_id must not be empty", ErrValidation)
	}
	if len(cfg.Variants) == 0 {
		return fmt.Errorf("%w: at least one variant is required", ErrValidation)
	}
	if len(cfg.Variants) > s.maxVariants {
		return fmt.Errorf("%w: at most %d variants allowed", ErrValidation, s.maxVariants)
	}
	if cfg.DurationDays < 0 {
		return fmt.Errorf("%w: duration_days must not be negative", ErrValidation)
	}
	seen := make(map[string]struct{}, len(cfg.Variants))
	for _, v := range cfg.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id must not be empty", ErrValidation)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate variant id %q", ErrValidation, v.ID)
		}
		seen[v.ID] = struct{}{}
		if v.Weight <= 0 || v.Weight > 1 {
			return fmt.Errorf("%w: variant %q weight must be in (0, 1]", ErrValidation, v.ID)
		}
	}
	return nil
}

// RecordEvent validates and enqueues one tracking event for asynchronous
// appending. The event is visible in results once a worker has drained it.
func (s *Service) RecordEvent(ctx context.Context, e model.Event) error {
	if e.Type != model.EventVisit && e.Type != model.EventConversion {
		metrics.RecordEventRejected("invalid_type")
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.Type)
	}

	exp, err := s.lookupActive(ctx, e.ExperimentID)
	if err != nil {
		metrics.RecordEventRejected("unknown_experiment")
		return err
	}
	if _, ok := exp.Variant(e.VariantID); !ok {
		metrics.RecordEventRejected("unknown_variant")
		return fmt.Errorf("%w: %q for experiment %s", ErrUnknownVariant, e.VariantID, e.ExperimentID)
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if !s.eventQueue.Enqueue(ctx, e) {
		metrics.RecordEventRejected("backpressure")
		return fmt.Errorf("%w: event queue full", ErrBackpressure)
	}
	return nil
}

// lookupActive resolves an experiment that must currently be active,
// consulting the registry first and falling back to the store. A store hit
// for an active experiment rehydrates the registry, so a restarted or
// evicted cache self-heals.
func (s *Service) lookupActive(ctx context.Context, id string) (model.Experiment, error) {
	s.mu.RLock()
	exp, ok := s.registry[id]
	s.mu.RUnlock()
	if ok {
		return exp, nil
	}

	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Experiment{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if exp.Status != model.StatusActive {
		// Ended experiments no longer accept operations that require an
		// active registration.
		return model.Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	s.registry[id] = exp
	s.mu.Unlock()
	return exp, nil
}

// lookup resolves an experiment in any lifecycle state.
func (s *Service) lookup(ctx context.Context, id string) (model.Experiment, error) {
	s.mu.RLock()
	exp, ok := s.registry[id]
	s.mu.RUnlock()
	if ok {
		return exp, nil
	}

	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Experiment{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return exp, nil
}

// Results recomputes per-variant statistics from the current event log.
// Rows come back in declared variant order.
func (s *Service) Results(ctx context.Context, experimentID string) ([]types.VariantResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordResultsLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	metrics.RecordResultsComputation()

	exp, err := s.lookup(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	events, err := s.store.ListEvents(ctx, experimentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, experimentID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return stats.Evaluate(tally(exp, events)), nil
}

// tally folds the event log into per-variant counts in declared order.
// Events for unknown variants never reach the log, the store rejects them.
func tally(exp model.Experiment, events []model.Event) []stats.Count {
	index := make(map[string]int, len(exp.Variants))
	counts := make([]stats.Count, len(exp.Variants))
	for i, v := range exp.Variants {
		index[v.ID] = i
		counts[i] = stats.Count{VariantID: v.ID}
	}
	for _, e := range events {
		i, ok := index[e.VariantID]
		if !ok {
			continue
		}
		switch e.Type {
		case model.EventVisit:
			counts[i].Visitors++
		case model.EventConversion:
			counts[i].Conversions++
		}
	}
	return counts
}

// End finalizes an experiment: compute results one last time, persist the
// completed status with any winner, and drop the registry entry. The store
// transition is atomic, so concurrent end calls resolve to exactly one
// success and ErrAlreadyEnded for the rest.
func (s *Service) End(ctx context.Context, experimentID string) (EndResult, error) {
	results, err := s.Results(ctx, experimentID)
	if err != nil {
		return EndResult{}, err
	}
	winner := stats.Winner(results)

	err = s.store.CompleteExperiment(ctx, experimentID, winner, time.Now().UTC())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return EndResult{}, fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	case errors.Is(err, repository.ErrAlreadyEnded):
		return EndResult{}, fmt.Errorf("%w: %s", ErrAlreadyEnded, experimentID)
	case err != nil:
		return EndResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	delete(s.registry, experimentID)
	active := len(s.registry)
	s.mu.Unlock()

	metrics.RecordExperimentCompleted()
	metrics.UpdateActiveExperiments(active)
	if winner != "" {
		metrics.RecordWinnerDeclared()
	}

	s.logger.Info(ctx, "experiment ended",
		logger.String("experimentID", experimentID),
		logger.String("winner", winner),
	)

	return EndResult{Winner: winner, Results: results}, nil
}

// Experiment returns the experiment record for the given id.
func (s *Service) Experiment(ctx context.Context, experimentID string) (model.Experiment, error) {
	return s.lookup(ctx, experimentID)
}

// Snippet renders the tracking snippet for an experiment.
func (s *Service) Snippet(ctx context.Context, experimentID string) (string, error) {
	exp, err := s.lookup(ctx, experimentID)
	if err != nil {
		return "", err
	}
	return s.renderSnippet(exp)
}

func (s *Service) renderSnippet(exp model.Experiment) (string, error) {
	snippet, err := assign.Snippet(assign.SnippetConfig{
		ExperimentID: exp.ID,
		Variants:     exp.Variants,
		Endpoint:     s.baseURL + s.trackEndpoint,
	})
	if err != nil {
		return "", fmt.Errorf("render snippet for %s: %w", exp.ID, err)
	}
	return snippet, nil
}

// SeenAndRecord atomically checks if an event id was seen and records it if
// not. Returns true if the event was already seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord removes an event id from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	statsMap := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		totalEvents := s.store.CountEvents(ctx)

		statsMap["queueLength"] = queueLen
		statsMap["activeExperiments"] = len(s.registry)
		statsMap["totalExperiments"] = s.store.CountExperiments(ctx)
		statsMap["totalEvents"] = totalEvents

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateTotalEvents(totalEvents)
		metrics.UpdateActiveExperiments(len(s.registry))
		metrics.UpdateWorkerCount(s.workerCount)
	}

	return statsMap
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
