// Package costs keeps running spend totals and answers the cap gate the
// analysis router consults before attempting costlier evidence modes.
package costs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/metrics"
)

const dayFormat = "2006-01-02"

// Summary is the immediate cap picture, served by the reporting API.
type Summary struct {
	Date            string  `json:"date"`
	DailySpendUSD   float64 `json:"daily_spend_usd"`
	DailyCapUSD     float64 `json:"daily_cap_usd"`
	MonthlySpendUSD float64 `json:"monthly_spend_usd"`
	MonthlyCapUSD   float64 `json:"monthly_cap_usd"`
	WithinCap       bool    `json:"within_cap"`
}

// Tracker aggregates usage into (date, camera, provider, mode) buckets in
// Postgres and keeps in-memory day/month spend for the cap check. It never
// blocks a call itself; enforcement belongs to the router.
type Tracker struct {
	store      data.UsageModel
	dailyCap   float64
	monthlyCap float64

	mu         sync.Mutex
	day        string // UTC date the daySpend total is valid for
	month      string
	daySpend   float64
	monthSpend float64

	now func() time.Time
}

func New(store data.UsageModel, cfg config.CostConfig) *Tracker {
	return &Tracker{
		store:      store,
		dailyCap:   cfg.DailyCapUSD,
		monthlyCap: cfg.MonthlyCapUSD,
		now:        time.Now,
	}
}

// Prime loads today's and this month's spend from the database so restarts
// do not reset the cap clock.
func (t *Tracker) Prime(ctx context.Context) error {
	now := t.now().UTC()
	today := now.Format(dayFormat)
	monthStart := now.Format("2006-01") + "-01"

	daySpend, err := t.store.SumCostSince(ctx, today)
	if err != nil {
		return fmt.Errorf("priming daily spend: %w", err)
	}
	monthSpend, err := t.store.SumCostSince(ctx, monthStart)
	if err != nil {
		return fmt.Errorf("priming monthly spend: %w", err)
	}

	t.mu.Lock()
	t.day = today
	t.month = now.Format("2006-01")
	t.daySpend = daySpend
	t.monthSpend = monthSpend
	t.mu.Unlock()

	metrics.SetDailySpend(daySpend)
	log.Printf("[INFO] CostTracker: primed spend day=%.4f month=%.4f", daySpend, monthSpend)
	return nil
}

// Record folds one completed request into its UTC-day bucket. The
// in-memory totals update even when the write-through fails, so the cap
// gate stays truthful for this process.
func (t *Tracker) Record(ctx context.Context, cameraID, provider, mode string, tokens int64, costUSD float64) error {
	now := t.now().UTC()

	t.mu.Lock()
	t.roll(now)
	t.daySpend += costUSD
	t.monthSpend += costUSD
	daySpend := t.daySpend
	t.mu.Unlock()

	metrics.RecordTokens(provider, mode, int(tokens))
	metrics.RecordCost(provider, costUSD)
	metrics.SetDailySpend(daySpend)

	rec := data.UsageRecord{
		Date:          now.Format(dayFormat),
		CameraID:      cameraID,
		Provider:      provider,
		Mode:          mode,
		RequestCount:  1,
		TotalTokens:   tokens,
		EstimatedCost: costUSD,
	}
	if err := t.store.Increment(ctx, rec); err != nil {
		return fmt.Errorf("persisting usage bucket: %w", err)
	}
	return nil
}

// WithinCap reports whether spend is still under both caps. A cap of zero
// or below means unlimited.
func (t *Tracker) WithinCap() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(t.now().UTC())

	if t.dailyCap > 0 && t.daySpend >= t.dailyCap {
		return false
	}
	if t.monthlyCap > 0 && t.monthSpend >= t.monthlyCap {
		return false
	}
	return true
}

func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(t.now().UTC())

	within := !(t.dailyCap > 0 && t.daySpend >= t.dailyCap) &&
		!(t.monthlyCap > 0 && t.monthSpend >= t.monthlyCap)
	return Summary{
		Date:            t.day,
		DailySpendUSD:   t.daySpend,
		DailyCapUSD:     t.dailyCap,
		MonthlySpendUSD: t.monthSpend,
		MonthlyCapUSD:   t.monthlyCap,
		WithinCap:       within,
	}
}

// roll resets totals when the UTC day or month has changed. Caller holds mu.
func (t *Tracker) roll(now time.Time) {
	day := now.Format(dayFormat)
	month := now.Format("2006-01")
	if day != t.day {
		t.day = day
		t.daySpend = 0
		metrics.SetDailySpend(0)
	}
	if month != t.month {
		t.month = month
		t.monthSpend = 0
	}
}

// Estimate converts a token count into dollars at a per-1K-token rate.
func Estimate(tokens int64, costPer1K float64) float64 {
	return float64(tokens) / 1000 * costPer1K
}
