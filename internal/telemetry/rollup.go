package telemetry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/amppool/gateway/internal"
)

const (
	defaultRollupInterval = 5 * time.Minute
	rollupScanLimit       = 50_000
	rollupFailureBackoff  = 60 * time.Second
)

// RollupLogStore is the request_log read surface the rollup worker scans.
type RollupLogStore interface {
	QueryLogs(ctx context.Context, filter gateway.LogFilter) ([]*gateway.RequestLog, error)
	SumCost(ctx context.Context, keyID int64, status gateway.LogStatus) (string, error)
}

// RollupStore is the persistence interface behind the rollup table.
type RollupStore interface {
	Upsert(ctx context.Context, r *gateway.Rollup) error
}

// CredentialStore is the credential-balance surface the rollup worker's
// balance-refresh pass reads and writes.
type CredentialStore interface {
	ListMetered(ctx context.Context) ([]*gateway.Credential, error)
	Update(ctx context.Context, id int64, fields map[string]any) error
}

// RollupWorker periodically recomputes aggregate statistics over request_log
// and refreshes metered credentials' balances. A single cooperative task,
// not a pool -- aggregation is cheap compared to the scan it's built on.
type RollupWorker struct {
	logs     RollupLogStore
	rollups  RollupStore
	creds    CredentialStore
	interval time.Duration
	metrics  *Metrics
	trigger  chan struct{}

	lastHour int // -1 until the first tick has run
}

// NewRollupWorker creates a RollupWorker ticking every interval (defaulting
// to 5 minutes when interval <= 0).
func NewRollupWorker(logs RollupLogStore, rollups RollupStore, creds CredentialStore, interval time.Duration, metrics *Metrics) *RollupWorker {
	if interval <= 0 {
		interval = defaultRollupInterval
	}
	return &RollupWorker{
		logs:     logs,
		rollups:  rollups,
		creds:    creds,
		interval: interval,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
		lastHour: -1,
	}
}

// Name returns the worker identifier.
func (w *RollupWorker) Name() string { return "rollup" }

// Run ticks on interval until ctx is cancelled. A single bad tick is logged
// and backed off, never aborts the worker.
func (w *RollupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		case <-w.trigger:
			w.tick(ctx)
		}
	}
}

// TriggerNow requests an immediate tick, for operator/test use.
func (w *RollupWorker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *RollupWorker) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.RollupTickSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	if err := w.runTick(ctx); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup tick failed", slog.String("error", err.Error()))
		time.Sleep(rollupFailureBackoff)
	}
}

func (w *RollupWorker) runTick(ctx context.Context) error {
	now := time.Now().UTC()
	date := now.Format("2006-01-02")
	hour := now.Hour()

	if err := w.aggregateWindow(ctx, date, nil); err != nil {
		return err
	}
	if err := w.aggregateWindow(ctx, date, &hour); err != nil {
		return err
	}

	if w.lastHour != -1 && w.lastHour != hour {
		prevDate, prevHour := date, w.lastHour
		if hour == 0 {
			prevDate = now.Add(-time.Hour).Format("2006-01-02")
		}
		if err := w.aggregateWindow(ctx, prevDate, &prevHour); err != nil {
			return err
		}
	}
	w.lastHour = hour

	return w.refreshBalances(ctx)
}

// aggregateWindow recomputes the global/provider/model rollups for one
// (date, hour) window, hour=nil meaning the whole day.
func (w *RollupWorker) aggregateWindow(ctx context.Context, statDate string, statHour *int) error {
	logs, err := w.logs.QueryLogs(ctx, gateway.LogFilter{StatDate: statDate, StatHour: statHour, Limit: rollupScanLimit})
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	global := newRollupBuilder(statDate, statHour, gateway.StatGlobal, nil, nil)
	byProvider := map[gateway.Provider]*rollupBuilder{}
	byModel := map[string]*rollupBuilder{}

	for _, rec := range logs {
		global.add(rec)

		provider := rec.Provider
		if _, ok := byProvider[provider]; !ok {
			p := string(provider)
			byProvider[provider] = newRollupBuilder(statDate, statHour, gateway.StatProvider, &p, nil)
		}
		byProvider[provider].add(rec)

		modelKey := string(rec.Provider) + "\x00" + rec.EchoedModel
		if _, ok := byModel[modelKey]; !ok {
			p, m := string(rec.Provider), rec.EchoedModel
			byModel[modelKey] = newRollupBuilder(statDate, statHour, gateway.StatModel, &p, &m)
		}
		byModel[modelKey].add(rec)
	}

	rows := []*gateway.Rollup{global.finalize()}
	for _, b := range byProvider {
		rows = append(rows, b.finalize())
	}
	for _, b := range byModel {
		rows = append(rows, b.finalize())
	}

	for _, r := range rows {
		if err := w.rollups.Upsert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// refreshBalances recomputes Balance = TotalAuthorized - sum(successful
// cost) for every enabled, metered credential. Unmetered credentials are
// skipped with a logged warning rather than an error.
func (w *RollupWorker) refreshBalances(ctx context.Context) error {
	creds, err := w.creds.ListMetered(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, c := range creds {
		if c.TotalAuthorized == nil {
			slog.Warn("rollup: credential has no total_authorized, skipping balance refresh", "key_id", c.ID)
			continue
		}
		sumStr, err := w.logs.SumCost(ctx, c.ID, gateway.LogStatusSuccess)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "rollup: sum cost failed",
				slog.Int64("key_id", c.ID), slog.String("error", err.Error()))
			continue
		}
		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			sum = decimal.Zero
		}
		balance := c.TotalAuthorized.Sub(sum)
		err = w.creds.Update(ctx, c.ID, map[string]any{
			"balance":             balance.String(),
			"balance_last_update": now.Format(time.RFC3339),
		})
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "rollup: balance update failed",
				slog.Int64("key_id", c.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// rollupBuilder accumulates one rollup row's statistics across a Query
// result set before it is finalized (averages computed) and upserted.
type rollupBuilder struct {
	row        *gateway.Rollup
	latencySum float64
}

func newRollupBuilder(statDate string, statHour *int, statType gateway.StatType, provider, model *string) *rollupBuilder {
	return &rollupBuilder{
		row: &gateway.Rollup{
			StatDate:     statDate,
			StatHour:     statHour,
			StatType:     statType,
			Provider:     provider,
			Model:        model,
			CostUSD:      decimal.Zero,
			MinLatencyMs: math.MaxFloat64,
		},
	}
}

func (b *rollupBuilder) add(rec *gateway.RequestLog) {
	r := b.row
	r.Count++
	switch rec.Status {
	case gateway.LogStatusSuccess:
		r.SuccessCount++
	case gateway.LogStatusError:
		r.ErrorCount++
	}
	r.PromptTokens += int64(rec.PromptTokens)
	r.CompletionTokens += int64(rec.CompletionTokens)
	r.TotalTokens += int64(rec.TotalTokens)
	r.InputTokens += int64(rec.InputTokens)
	r.OutputTokens += int64(rec.OutputTokens)
	r.CostUSD = r.CostUSD.Add(rec.CostUSD)

	lat := float64(rec.LatencyMs)
	b.latencySum += lat
	if lat > r.MaxLatencyMs {
		r.MaxLatencyMs = lat
	}
	if lat < r.MinLatencyMs {
		r.MinLatencyMs = lat
	}
}

func (b *rollupBuilder) finalize() *gateway.Rollup {
	r := b.row
	if r.Count > 0 {
		r.AvgLatencyMs = b.latencySum / float64(r.Count)
	} else {
		r.MinLatencyMs = 0
	}
	return r
}
