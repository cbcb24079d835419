package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/amppool/gateway/internal"
)

// InsertLog writes one append-only request log row.
func (s *Store) InsertLog(ctx context.Context, rec *gateway.RequestLog) error {
	_, err := s.write.ExecContext(ctx, `INSERT INTO request_log
		(id, started_at, finished_at, key_id, secret_used, egress_proxy_used,
		 requested_model, echoed_model, provider,
		 prompt_tokens, completion_tokens, total_tokens,
		 input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
		 cost_usd, latency_ms, status, http_status, error_type, error_message,
		 request_body, response_body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.KeyID, rec.SecretUsed, rec.EgressProxyUsed,
		rec.RequestedModel, rec.EchoedModel, string(rec.Provider),
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.InputTokens, rec.OutputTokens, rec.CacheCreationInputTokens, rec.CacheReadInputTokens,
		rec.CostUSD.String(), rec.LatencyMs, string(rec.Status), rec.HTTPStatus,
		string(rec.ErrorType), rec.ErrorMessage,
		nullableStrPtr(rec.RequestBody), nullableStrPtr(rec.ResponseBody))
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// QueryLogs returns request log rows matching filter, most recent first.
func (s *Store) QueryLogs(ctx context.Context, filter gateway.LogFilter) ([]*gateway.RequestLog, error) {
	query := `SELECT id, started_at, finished_at, key_id, secret_used, egress_proxy_used,
		requested_model, echoed_model, provider,
		prompt_tokens, completion_tokens, total_tokens,
		input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
		cost_usd, latency_ms, status, http_status, error_type, error_message,
		request_body, response_body
		FROM request_log WHERE date(started_at) = ?`
	args := []any{filter.StatDate}
	if filter.StatHour != nil {
		query += ` AND CAST(strftime('%H', started_at) AS INTEGER) = ?`
		args = append(args, *filter.StatHour)
	}
	if filter.KeyID != nil {
		query += ` AND key_id = ?`
		args = append(args, *filter.KeyID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var out []*gateway.RequestLog
	for rows.Next() {
		r, err := scanRequestLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SumCost returns the decimal-string sum of cost_usd for a key's requests in
// the given status, "0" when there are none.
func (s *Store) SumCost(ctx context.Context, keyID int64, status gateway.LogStatus) (string, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT cost_usd FROM request_log WHERE key_id = ? AND status = ?`, keyID, string(status))
	if err != nil {
		return "0", err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "0", err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total.String(), rows.Err()
}

func scanRequestLog(row rowScanner) (*gateway.RequestLog, error) {
	var (
		r                       gateway.RequestLog
		started, finished       string
		provider, status, etype string
		cost                    string
		reqBody, respBody       sql.NullString
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.KeyID, &r.SecretUsed, &r.EgressProxyUsed,
		&r.RequestedModel, &r.EchoedModel, &provider,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
		&r.InputTokens, &r.OutputTokens, &r.CacheCreationInputTokens, &r.CacheReadInputTokens,
		&cost, &r.LatencyMs, &status, &r.HTTPStatus, &etype, &r.ErrorMessage,
		&reqBody, &respBody); err != nil {
		return nil, err
	}
	r.Provider = gateway.Provider(provider)
	r.Status = gateway.LogStatus(status)
	r.ErrorType = gateway.ErrorType(etype)
	if d, err := decimal.NewFromString(cost); err == nil {
		r.CostUSD = d
	}
	if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
		r.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
		r.FinishedAt = t
	}
	if reqBody.Valid {
		r.RequestBody = &reqBody.String
	}
	if respBody.Valid {
		r.ResponseBody = &respBody.String
	}
	return &r, nil
}

func nullableStrPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
