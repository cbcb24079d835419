package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	gateway "github.com/amppool/gateway/internal"
)

// noHour and noKeyID (with "" for provider/model) map the domain's nullable
// dimension fields onto non-NULL storage values: SQLite's unique-constraint conflict resolution
// never fires across two NULLs (NULL <> NULL), which would turn every
// whole-day/global upsert into a fresh INSERT instead of an update. -1 and
// "" stand in for "no hour"/"no provider"/"no model"/"no key" on disk only;
// the Go-level Rollup type still carries nil for those dimensions.
const noHour = -1
const noKeyID = -1

// Upsert writes or replaces one rollup row, keyed by its full dimensional
// key (stat_date, stat_hour, stat_type, provider, model, key_id).
func (s *Store) Upsert(ctx context.Context, r *gateway.Rollup) error {
	hour := noHour
	if r.StatHour != nil {
		hour = *r.StatHour
	}
	keyID := int64(noKeyID)
	if r.KeyID != nil {
		keyID = *r.KeyID
	}
	var provider, model string
	if r.Provider != nil {
		provider = *r.Provider
	}
	if r.Model != nil {
		model = *r.Model
	}

	_, err := s.write.ExecContext(ctx, `INSERT INTO rollup
		(stat_date, stat_hour, stat_type, provider, model, key_id,
		 count, success_count, error_count,
		 prompt_tokens, completion_tokens, total_tokens, input_tokens, output_tokens,
		 cost_usd, avg_latency_ms, max_latency_ms, min_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stat_date, stat_hour, stat_type, provider, model, key_id) DO UPDATE SET
			count = excluded.count,
			success_count = excluded.success_count,
			error_count = excluded.error_count,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd,
			avg_latency_ms = excluded.avg_latency_ms,
			max_latency_ms = excluded.max_latency_ms,
			min_latency_ms = excluded.min_latency_ms`,
		r.StatDate, hour, string(r.StatType), provider, model, keyID,
		r.Count, r.SuccessCount, r.ErrorCount,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.InputTokens, r.OutputTokens,
		r.CostUSD.String(), r.AvgLatencyMs, r.MaxLatencyMs, r.MinLatencyMs)
	if err != nil {
		return fmt.Errorf("upsert rollup: %w", err)
	}
	return nil
}

// QueryRollups returns rollup rows for the given day (and hour, if set).
func (s *Store) QueryRollups(ctx context.Context, filter gateway.LogFilter) ([]*gateway.Rollup, error) {
	query := `SELECT stat_date, stat_hour, stat_type, provider, model, key_id,
		count, success_count, error_count,
		prompt_tokens, completion_tokens, total_tokens, input_tokens, output_tokens,
		cost_usd, avg_latency_ms, max_latency_ms, min_latency_ms
		FROM rollup WHERE stat_date = ?`
	args := []any{filter.StatDate}
	if filter.StatHour != nil {
		query += ` AND stat_hour = ?`
		args = append(args, *filter.StatHour)
	}
	if filter.KeyID != nil {
		query += ` AND key_id = ?`
		args = append(args, *filter.KeyID)
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollup: %w", err)
	}
	defer rows.Close()

	var out []*gateway.Rollup
	for rows.Next() {
		var (
			rl              gateway.Rollup
			hour            int
			provider, model string
			keyID           int64
			statType        string
			cost            string
		)
		if err := rows.Scan(&rl.StatDate, &hour, &statType, &provider, &model, &keyID,
			&rl.Count, &rl.SuccessCount, &rl.ErrorCount,
			&rl.PromptTokens, &rl.CompletionTokens, &rl.TotalTokens,
			&rl.InputTokens, &rl.OutputTokens, &cost,
			&rl.AvgLatencyMs, &rl.MaxLatencyMs, &rl.MinLatencyMs); err != nil {
			return nil, err
		}
		rl.StatType = gateway.StatType(statType)
		if hour != noHour {
			h := hour
			rl.StatHour = &h
		}
		if provider != "" {
			rl.Provider = &provider
		}
		if model != "" {
			rl.Model = &model
		}
		if keyID != noKeyID {
			k := keyID
			rl.KeyID = &k
		}
		if d, err := decimal.NewFromString(cost); err == nil {
			rl.CostUSD = d
		}
		out = append(out, &rl)
	}
	return out, rows.Err()
}
