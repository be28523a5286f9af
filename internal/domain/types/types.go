// Package types contains common types used across the application
package types

// VariantResult is one row of an experiment's statistical snapshot.
type VariantResult struct {
	VariantID      string  `json:"variant_id"`
	Visitors       int     `json:"visitors"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Confidence     float64 `json:"confidence"`
	ZScore         float64 `json:"z_score"`
	Significant    bool    `json:"significant"`
	IsWinner       bool    `json:"is_winner"`
}
