package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/splitlab/splitlab/internal/simulate"
)

// Default configuration constants.
const (
	defaultVisitors          = 10000
	defaultWorkerMultiplier  = 2
	defaultTimeout           = 30 * time.Second
	defaultSimulationTimeout = 10 * time.Minute
	defaultWeights           = "control=0.5,treatment=0.5"
	defaultConversion        = "control=0.10,treatment=0.12"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		visitors   = flag.Int("visitors", defaultVisitors, "Number of visitor sessions to simulate")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkerMultiplier, "Number of concurrent workers")
		weights    = flag.String("weights", defaultWeights, "Variant weights as variant=weight pairs")
		conversion = flag.String("conversion", defaultConversion, "Per-variant conversion probabilities")
		experiment = flag.String("experiment", "", "Reuse an existing experiment id")
		seed       = flag.Int64("seed", 0, "RNG seed for reproducible runs")
		endAfter   = flag.Bool("end", false, "End the experiment afterwards and report the winner")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	weightMap, err := simulate.ParseRates(*weights)
	if err != nil {
		os.Stderr.WriteString("Invalid -weights: " + err.Error() + "\n")
		return
	}
	conversionMap, err := simulate.ParseRates(*conversion)
	if err != nil {
		os.Stderr.WriteString("Invalid -conversion: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSimulationTimeout)
	defer cancel()

	config := &simulate.Config{
		BaseURL:      *baseURL,
		Visitors:     *visitors,
		Workers:      *workers,
		Timeout:      *timeout,
		Weights:      weightMap,
		Conversion:   conversionMap,
		Seed:         *seed,
		EndAfter:     *endAfter,
		ExperimentID: *experiment,
		Verbose:      *verbose,
	}

	if err := simulate.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
