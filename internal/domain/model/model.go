// Package model contains domain models passed between layers.
package model

import "time"

// Status enumerates experiment lifecycle states.
type Status string

const (
	// StatusActive is the state of a running experiment.
	StatusActive Status = "active"
	// StatusCompleted is the terminal state reached via an explicit end call.
	StatusCompleted Status = "completed"
)

// EventType enumerates the kinds of tracked events.
type EventType string

const (
	// EventVisit marks one visitor session reaching a variant.
	EventVisit EventType = "visit"
	// EventConversion marks a goal completion attributed to a variant.
	EventConversion EventType = "conversion"
)

// Variant is one arm of an experiment.
type Variant struct {
	ID     string  // unique within the experiment
	Weight float64 // traffic share in (0, 1]
	URL    string  // rendered asset reference, opaque to this service
}

// Experiment is a configured comparison between page variants for one subject.
// The variant set is fixed at creation.
type Experiment struct {
	ID           string
	SubjectID    string
	Variants     []Variant
	Metrics      []string // informational metric names, not enforced
	DurationDays int      // advisory; experiments end only explicitly
	Status       Status
	Winner       string // variant id, empty until a winner is recorded
	StartedAt    time.Time
	EndedAt      time.Time
}

// Variant returns the variant with the given id, or false if unknown.
func (e *Experiment) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Event is one append-only observation for an experiment variant.
type Event struct {
	EventID      string // optional client-supplied id for idempotency
	ExperimentID string
	VariantID    string
	Type         EventType
	Metric       string // optional metric name qualifying a conversion
	Timestamp    time.Time
}
