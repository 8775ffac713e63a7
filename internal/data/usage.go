package data

import (
	"context"
)

// UsageRecord is one aggregation bucket keyed by
// (usage_date, camera_id, provider, mode). Buckets are incremented,
// never overwritten.
type UsageRecord struct {
	Date          string  `json:"date"` // YYYY-MM-DD, UTC day
	CameraID      string  `json:"camera_id"`
	Provider      string  `json:"provider"`
	Mode          string  `json:"mode"`
	RequestCount  int64   `json:"request_count"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// ProviderSummary is a reporting rollup across buckets.
type ProviderSummary struct {
	Provider      string  `json:"provider"`
	RequestCount  int64   `json:"request_count"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

type UsageModel struct {
	DB DBTX
}

// Increment folds one request into its bucket.
func (m UsageModel) Increment(ctx context.Context, rec UsageRecord) error {
	query := `
		INSERT INTO usage_records (usage_date, camera_id, provider, mode, request_count, total_tokens, estimated_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (usage_date, camera_id, provider, mode)
		DO UPDATE SET
			request_count  = usage_records.request_count + EXCLUDED.request_count,
			total_tokens   = usage_records.total_tokens + EXCLUDED.total_tokens,
			estimated_cost = usage_records.estimated_cost + EXCLUDED.estimated_cost`

	_, err := m.DB.ExecContext(ctx, query,
		rec.Date, rec.CameraID, rec.Provider, rec.Mode,
		rec.RequestCount, rec.TotalTokens, rec.EstimatedCost)
	return err
}

// SumCostSince totals estimated cost for buckets on or after fromDate.
// Used to prime in-memory cap counters at startup.
func (m UsageModel) SumCostSince(ctx context.Context, fromDate string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(estimated_cost), 0)
		FROM usage_records
		WHERE usage_date >= $1`

	var sum float64
	err := m.DB.QueryRowContext(ctx, query, fromDate).Scan(&sum)
	return sum, err
}

func (m UsageModel) ListRange(ctx context.Context, fromDate, toDate string) ([]*UsageRecord, error) {
	query := `
		SELECT usage_date::text, camera_id, provider, mode, request_count, total_tokens, estimated_cost
		FROM usage_records
		WHERE usage_date >= $1 AND usage_date <= $2
		ORDER BY usage_date, camera_id, provider, mode`

	rows, err := m.DB.QueryContext(ctx, query, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.Date, &r.CameraID, &r.Provider, &r.Mode,
			&r.RequestCount, &r.TotalTokens, &r.EstimatedCost); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (m UsageModel) SummarizeByProvider(ctx context.Context, fromDate, toDate string) ([]*ProviderSummary, error) {
	query := `
		SELECT provider, COALESCE(SUM(request_count), 0), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(estimated_cost), 0)
		FROM usage_records
		WHERE usage_date >= $1 AND usage_date <= $2
		GROUP BY provider
		ORDER BY provider`

	rows, err := m.DB.QueryContext(ctx, query, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProviderSummary
	for rows.Next() {
		var s ProviderSummary
		if err := rows.Scan(&s.Provider, &s.RequestCount, &s.TotalTokens, &s.EstimatedCost); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
