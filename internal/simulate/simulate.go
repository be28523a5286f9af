// Package simulate drives synthetic visitor traffic against a running
// service instance: it creates an experiment, assigns simulated sessions to
// variants with the same cumulative-weight walk the tracking snippet uses,
// submits visit and conversion events, and reports the observed statistics.
package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/splitlab/splitlab/internal/domain/assign"
	"github.com/splitlab/splitlab/internal/domain/model"
	"github.com/splitlab/splitlab/pkg/logger"
)

const (
	// processingDelay gives the async ingestion pipeline time to drain
	// before results are read back.
	processingDelay = 2 * time.Second
)

// Run executes the complete traffic simulation.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime:      time.Now(),
		AssignedPerArm: make(map[string]int),
	}

	logger.Get().Info(ctx, "starting traffic simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("visitors", config.Visitors),
		logger.Int("workers", config.Workers),
		logger.Any("weights", config.Weights),
		logger.Any("conversion", config.Conversion),
	)

	client := newHTTPClient(config.Timeout)

	if err := checkServiceHealth(ctx, client, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	experimentID := config.ExperimentID
	variants := variantsFromWeights(config.Weights)
	if experimentID == "" {
		created, err := createExperiment(ctx, client, config, variants)
		if err != nil {
			return fmt.Errorf("experiment creation failed: %w", err)
		}
		experimentID = created
	}
	logger.Get().Info(ctx, "simulating against experiment",
		logger.String("experimentID", experimentID))

	if err := simulateVisitors(ctx, client, config, experimentID, variants, stats); err != nil {
		return fmt.Errorf("visitor simulation failed: %w", err)
	}

	logger.Get().Info(ctx, "waiting for events to be processed")
	time.Sleep(processingDelay)

	results, err := fetchResults(ctx, client, config, experimentID)
	if err != nil {
		return fmt.Errorf("results retrieval failed: %w", err)
	}
	reportResults(ctx, config, results, stats)

	if config.EndAfter {
		final, err := endExperiment(ctx, client, config, experimentID)
		if err != nil {
			return fmt.Errorf("experiment end failed: %w", err)
		}
		if final.Winner == "" {
			logger.Get().Info(ctx, "experiment ended without a winner")
		} else {
			logger.Get().Info(ctx, "experiment ended with a winner",
				logger.String("winner", final.Winner))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient, config *Config) error {
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	drain(resp)
	if resp.StatusCode != 200 {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// variantsFromWeights builds a deterministic variant list from the weight
// map. Ids are sorted so repeated runs with the same seed assign the same
// sessions to the same arms.
func variantsFromWeights(weights map[string]float64) []model.Variant {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	variants := make([]model.Variant, len(ids))
	for i, id := range ids {
		variants[i] = model.Variant{
			ID:     id,
			Weight: weights[id],
			URL:    "https://example.test/" + id,
		}
	}
	return variants
}

// createExperiment registers a fresh experiment for the simulation.
func createExperiment(ctx context.Context, client *HTTPClient, config *Config, variants []model.Variant) (string, error) {
	type variantPayload struct {
		ID     string  `json:"id"`
		Weight float64 `json:"weight"`
		URL    string  `json:"url"`
	}
	req := struct {
		SubjectID string           `json:"subject_id"`
		Variants  []variantPayload `json:"variants"`
		Metrics   []string         `json:"metrics"`
	}{
		SubjectID: "simulated-" + time.Now().Format("20060102150405"),
		Metrics:   []string{"conversion"},
	}
	for _, v := range variants {
		req.Variants = append(req.Variants, variantPayload{ID: v.ID, Weight: v.Weight, URL: v.URL})
	}

	resp, err := client.Post(ctx, config.BaseURL+"/experiments", req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 201 {
		drain(resp)
		return "", fmt.Errorf("create returned status %d", resp.StatusCode)
	}
	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := readJSON(resp, &created); err != nil {
		return "", err
	}
	return created.ExperimentID, nil
}

// simulateVisitors runs visitor sessions concurrently. Each session draws a
// variant the same way the browser snippet does, posts one visit, and
// converts with the configured per-variant probability.
func simulateVisitors(ctx context.Context, client *HTTPClient, config *Config, experimentID string, variants []model.Variant, stats *Stats) error {
	var (
		submitted  int64
		successful int64
		failed     int64
	)
	assigned := make([]map[string]int, config.Workers)

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	url := config.BaseURL + "/events"
	perWorker := config.Visitors / config.Workers
	remainder := config.Visitors % config.Workers

	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		sessions := perWorker
		if i < remainder {
			sessions++
		}
		assigned[i] = make(map[string]int)

		wg.Add(1)
		go func(workerID, sessions int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(workerID)))

			for s := 0; s < sessions; s++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				variantID := assign.Pick(variants, rng.Float64())
				assigned[workerID][variantID]++

				results := []string{submitEvent(ctx, client, url, eventPayload{
					EventID:      uuid.NewString(),
					ExperimentID: experimentID,
					VariantID:    variantID,
					Type:         "visit",
				})}
				if rng.Float64() < config.Conversion[variantID] {
					results = append(results, submitEvent(ctx, client, url, eventPayload{
						EventID:      uuid.NewString(),
						ExperimentID: experimentID,
						VariantID:    variantID,
						Type:         "conversion",
						Metric:       "conversion",
					}))
				}
				for _, r := range results {
					atomic.AddInt64(&submitted, 1)
					if r == "success" {
						atomic.AddInt64(&successful, 1)
					} else {
						atomic.AddInt64(&failed, 1)
					}
				}
			}
		}(i, sessions)
	}
	wg.Wait()

	stats.VisitorsSimulated = config.Visitors
	stats.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.EventsSuccessful = int(atomic.LoadInt64(&successful))
	stats.EventsFailed = int(atomic.LoadInt64(&failed))
	for _, m := range assigned {
		for id, n := range m {
			stats.AssignedPerArm[id] += n
		}
	}

	if stats.EventsFailed > 0 && stats.EventsSuccessful == 0 {
		return fmt.Errorf("all %d event submissions failed", stats.EventsFailed)
	}
	return nil
}

// submitEvent submits a single event and classifies the outcome.
func submitEvent(ctx context.Context, client *HTTPClient, url string, payload eventPayload) string {
	resp, err := client.Post(ctx, url, payload)
	if err != nil {
		return "failed"
	}
	var ack ackResponse
	if err := readJSON(resp, &ack); err != nil {
		return "failed"
	}
	switch resp.StatusCode {
	case 202:
		return "success"
	case 200:
		if ack.Duplicate {
			return "duplicate"
		}
		return "success"
	default:
		return "failed"
	}
}

// fetchResults reads the current statistical snapshot.
func fetchResults(ctx context.Context, client *HTTPClient, config *Config, experimentID string) (*resultsResponse, error) {
	resp, err := client.Get(ctx, config.BaseURL+"/experiments/"+experimentID+"/results")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		drain(resp)
		return nil, fmt.Errorf("results returned status %d", resp.StatusCode)
	}
	var results resultsResponse
	if err := readJSON(resp, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// endExperiment finalizes the experiment and returns the final snapshot.
func endExperiment(ctx context.Context, client *HTTPClient, config *Config, experimentID string) (*resultsResponse, error) {
	resp, err := client.Post(ctx, config.BaseURL+"/experiments/"+experimentID+"/end", struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		drain(resp)
		return nil, fmt.Errorf("end returned status %d", resp.StatusCode)
	}
	var results resultsResponse
	if err := readJSON(resp, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// reportResults compares configured weights against observed assignment
// shares and prints the per-variant statistics.
func reportResults(ctx context.Context, config *Config, results *resultsResponse, stats *Stats) {
	total := 0
	for _, n := range stats.AssignedPerArm {
		total += n
	}

	for _, r := range results.Results {
		observedShare := 0.0
		if total > 0 {
			observedShare = float64(stats.AssignedPerArm[r.VariantID]) / float64(total)
		}
		logger.Get().Info(ctx, "variant results",
			logger.String("variant", r.VariantID),
			logger.Float64("configuredWeight", config.Weights[r.VariantID]),
			logger.Float64("observedShare", observedShare),
			logger.Int("visitors", r.Visitors),
			logger.Int("conversions", r.Conversions),
			logger.Float64("conversionRate", r.ConversionRate),
			logger.Float64("confidence", r.Confidence),
			logger.Bool("isWinner", r.IsWinner),
		)
	}
}

// displayFinalStats prints the final simulation statistics.
func displayFinalStats(stats *Stats) {
	var successRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsSuccessful) / float64(stats.EventsSubmitted) * 100
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("visitorsSimulated", stats.VisitorsSimulated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsSuccessful", stats.EventsSuccessful),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond),
	)
}
