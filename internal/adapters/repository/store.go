// Package repository defines the durable experiment/event store interface
// and errors. The store is the source of truth for experiment status; the
// service-level registry is only a cache in front of it.
package repository

import (
	"context"
	"time"

	"github.com/splitlab/splitlab/internal/domain/model"
)

// Store provides access to experiment metadata and the append-only event log.
type Store interface {
	// CreateExperiment persists a new experiment record.
	// Returns ErrExperimentExists if the id is already taken.
	CreateExperiment(ctx context.Context, exp model.Experiment) error

	// GetExperiment returns the experiment with the given id.
	// Returns ErrNotFound if the id is unknown.
	GetExperiment(ctx context.Context, id string) (model.Experiment, error)

	// CompleteExperiment transitions an experiment from active to completed,
	// recording the winner (empty for none) and end time. The transition is
	// atomic: a second call observes the completed status and gets
	// ErrAlreadyEnded, so concurrent end calls cannot both persist a winner.
	CompleteExperiment(ctx context.Context, id string, winner string, endedAt time.Time) error

	// AppendEvent appends one event to the experiment's log.
	// Returns ErrNotFound for an unknown experiment and ErrUnknownVariant
	// when the event references a variant the experiment never declared.
	AppendEvent(ctx context.Context, e model.Event) error

	// ListEvents returns a snapshot of all events for an experiment in append
	// order. Concurrent appends during the read may or may not be included;
	// results are a best-effort snapshot, not a serializable transaction.
	ListEvents(ctx context.Context, experimentID string) ([]model.Event, error)

	// CountExperiments returns the number of stored experiments.
	CountExperiments(ctx context.Context) int

	// CountEvents returns the total number of stored events.
	CountEvents(ctx context.Context) int
}
