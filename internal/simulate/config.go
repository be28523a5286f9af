package simulate

import "time"

// Config holds configuration for the traffic simulation.
type Config struct {
	BaseURL      string             // Base URL of the service
	Visitors     int                // Number of visitor sessions to simulate
	Workers      int                // Number of concurrent workers
	Timeout      time.Duration      // HTTP request timeout
	Weights      map[string]float64 // Variant id -> traffic weight
	Conversion   map[string]float64 // Variant id -> conversion probability
	Seed         int64              // RNG seed; 0 means time-based
	EndAfter     bool               // End the experiment and report the winner
	ExperimentID string             // Reuse an existing experiment instead of creating one
	Verbose      bool               // Enable verbose logging
}

// eventPayload mirrors the POST /events request body.
type eventPayload struct {
	EventID      string `json:"event_id,omitempty"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	Type         string `json:"type"`
	Metric       string `json:"metric,omitempty"`
}

// ackResponse mirrors the event submission acknowledgment.
type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// variantResult mirrors one row of the results endpoint.
type variantResult struct {
	VariantID      string  `json:"variant_id"`
	Visitors       int     `json:"visitors"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Confidence     float64 `json:"confidence"`
	IsWinner       bool    `json:"is_winner"`
}

// resultsResponse mirrors the results endpoint body.
type resultsResponse struct {
	ExperimentID string          `json:"experiment_id"`
	Status       string          `json:"status"`
	Winner       string          `json:"winner"`
	Results      []variantResult `json:"results"`
}

// Stats holds simulation statistics.
type Stats struct {
	VisitorsSimulated int
	EventsSubmitted   int
	EventsSuccessful  int
	EventsFailed      int
	AssignedPerArm    map[string]int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
