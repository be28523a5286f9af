package simulate

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/splitlab/splitlab/pkg/logger"
)

// SetupLogging initializes logging for the simulation tool.
func SetupLogging(verbose bool) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return nil
}

// ParseRates parses a "variant=rate,variant=rate" flag value.
func ParseRates(s string) (map[string]float64, error) {
	rates := make(map[string]float64)
	if s == "" {
		return rates, nil
	}
	for _, pair := range strings.Split(s, ",") {
		id, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q; expected variant=rate", pair)
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate in %q: %w", pair, err)
		}
		rates[strings.TrimSpace(id)] = rate
	}
	return rates, nil
}

// ShowHelp prints usage information for the simulation tool.
func ShowHelp() {
	os.Stdout.WriteString(`SplitLab Traffic Simulator
==========================

Drives synthetic visitor traffic against a running SplitLab instance and
reports the resulting per-variant statistics.

Usage:
  go run cmd/simulate/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -visitors int
        Number of visitor sessions to simulate (default 10000)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -weights string
        Variant weights, e.g. "control=0.5,treatment=0.5"
  -conversion string
        Per-variant conversion probabilities, e.g. "control=0.10,treatment=0.14"
  -experiment string
        Reuse an existing experiment id instead of creating one
  -seed int
        RNG seed for reproducible runs (default: time-based)
  -end
        End the experiment afterwards and report the winner
  -timeout duration
        HTTP request timeout (default 30s)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Even split, treatment converts better
  go run cmd/simulate/main.go -visitors 20000 -conversion "control=0.10,treatment=0.14" -end

  # Reproducible run against a remote instance
  go run cmd/simulate/main.go -url http://ab.internal:9080 -seed 42
`)
}
