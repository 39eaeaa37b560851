// Package history persists published scan results for later review.
package history

import (
	"context"
	"time"

	"github.com/sawpanic/spreadrun/internal/models"
)

// Record is one stored scan outcome
type Record struct {
	ScanID            string                 `json:"scan_id" db:"scan_id"`
	Symbol            string                 `json:"symbol" db:"symbol"`
	ScannedAt         time.Time              `json:"scanned_at" db:"scanned_at"`
	SpreadCount       int                    `json:"spread_count" db:"spread_count"`
	BestScore         float64                `json:"best_score" db:"best_score"`
	MeanScore         float64                `json:"mean_score" db:"mean_score"`
	TotalContracts    int                    `json:"total_contracts" db:"total_contracts"`
	FilteredContracts int                    `json:"filtered_contracts" db:"filtered_contracts"`
	DurationMS        float64                `json:"duration_ms" db:"duration_ms"`
	TopSpread         *models.VerticalSpread `json:"top_spread,omitempty" db:"-"`
}

// Recorder stores scan results
type Recorder interface {
	Record(ctx context.Context, result *models.ScanResult) error
	Recent(ctx context.Context, symbol string, limit int) ([]Record, error)
	Enabled() bool
	Close() error
}

// NopRecorder discards everything
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *models.ScanResult) error { return nil }

func (NopRecorder) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }

func (NopRecorder) Enabled() bool { return false }

func (NopRecorder) Close() error { return nil }

func recordFrom(r *models.ScanResult) Record {
	rec := Record{
		ScanID:            r.ScanID,
		Symbol:            r.Symbol,
		ScannedAt:         r.Timestamp.UTC(),
		SpreadCount:       len(r.Spreads),
		BestScore:         r.Summary.BestScore,
		MeanScore:         r.Summary.MeanScore,
		TotalContracts:    r.TotalContracts,
		FilteredContracts: r.FilteredContracts,
		DurationMS:        float64(r.Duration.Microseconds()) / 1000,
	}
	if top := r.Top(); top != nil {
		t := *top
		rec.TopSpread = &t
	}
	return rec
}
