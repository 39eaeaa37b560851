package models

import "time"

// ScanSummary carries aggregate statistics for a scan's ranked spreads
type ScanSummary struct {
	BestScore   float64 `json:"best_score"`
	MeanScore   float64 `json:"mean_score"`
	MedianScore float64 `json:"median_score"`
	StdDevScore float64 `json:"stddev_score"`
	MeanPoP     float64 `json:"mean_pop"`
}

// ScanResult is the ranked output of one symbol scan
type ScanResult struct {
	ScanID            string           `json:"scan_id"`
	Timestamp         time.Time        `json:"timestamp"`
	Symbol            string           `json:"symbol"`
	Spreads           []VerticalSpread `json:"spreads"`
	TotalContracts    int              `json:"total_contracts"`
	FilteredContracts int              `json:"filtered_contracts"`
	CandidateSpreads  int              `json:"candidate_spreads"`
	Duration          time.Duration    `json:"duration_ns"`
	CacheHit          bool             `json:"cache_hit"`
	Summary           ScanSummary      `json:"summary"`
}

// Top returns the best ranked spread, or nil for an empty result
func (r *ScanResult) Top() *VerticalSpread {
	if r == nil || len(r.Spreads) == 0 {
		return nil
	}
	return &r.Spreads[0]
}
