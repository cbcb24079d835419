package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/amppool/gateway/internal"
)

// ListAvailable returns up to limit enabled, quota-eligible credentials not
// already present in excludeIDs, used by the key pool to refill its cache.
func (s *Store) ListAvailable(ctx context.Context, excludeIDs []int64, limit int) ([]*gateway.Credential, error) {
	query := `SELECT id, label, secret, bound_ua, bound_proxy, enabled, balance,
		total_authorized, balance_last_update, last_observed_error, memo, created_at, updated_at
		FROM credential WHERE enabled = 1 AND (balance IS NULL OR CAST(balance AS REAL) > 0)`
	args := []any{}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " AND id NOT IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY RANDOM() LIMIT ?"
	args = append(args, limit)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list available credentials: %w", err)
	}
	defer rows.Close()

	var out []*gateway.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns a single credential by id.
func (s *Store) Get(ctx context.Context, id int64) (*gateway.Credential, error) {
	row := s.read.QueryRowContext(ctx, `SELECT id, label, secret, bound_ua, bound_proxy, enabled, balance,
		total_authorized, balance_last_update, last_observed_error, memo, created_at, updated_at
		FROM credential WHERE id = ?`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// InsertCredential adds a new credential row, returning its assigned id via c.ID.
func (s *Store) InsertCredential(ctx context.Context, c *gateway.Credential) error {
	now := time.Now().UTC()
	res, err := s.write.ExecContext(ctx, `INSERT INTO credential
		(label, secret, bound_ua, bound_proxy, enabled, balance, total_authorized,
		 balance_last_update, last_observed_error, memo, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Label, c.Secret, c.BoundUA, c.BoundProxy, boolToInt(c.Enabled),
		decimalPtrToNullable(c.Balance), decimalPtrToNullable(c.TotalAuthorized),
		timePtrToNullable(c.BalanceLastUpdate), string(c.LastObservedError), c.Memo,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// Update applies a sparse set of field updates by name. Unknown field names
// are ignored; updated_at is always bumped.
func (s *Store) Update(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"label": true, "secret": true, "bound_ua": true, "bound_proxy": true,
		"enabled": true, "balance": true, "total_authorized": true,
		"balance_last_update": true, "last_observed_error": true, "memo": true,
	}
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for k, v := range fields {
		if !allowed[k] {
			continue
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)

	query := "UPDATE credential SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// Delete removes a credential row permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM credential WHERE id = ?`, id)
	return err
}

// Count returns the total number of credential rows, regardless of state.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM credential`).Scan(&n)
	return n, err
}

// ListMetered returns every enabled credential, regardless of
// TotalAuthorized or current balance -- used by the rollup worker's
// balance-refresh pass, which must see already-exhausted credentials too and
// decides for itself which ones are unmetered.
func (s *Store) ListMetered(ctx context.Context) ([]*gateway.Credential, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id, label, secret, bound_ua, bound_proxy, enabled, balance,
		total_authorized, balance_last_update, last_observed_error, memo, created_at, updated_at
		FROM credential WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("list metered credentials: %w", err)
	}
	defer rows.Close()

	var out []*gateway.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Disable marks a credential unusable and records why, for operator triage.
func (s *Store) Disable(ctx context.Context, id int64, reason gateway.ObservedError) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE credential SET enabled = 0, last_observed_error = ?, updated_at = ? WHERE id = ?`,
		string(reason), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*gateway.Credential, error) {
	var (
		c                 gateway.Credential
		enabled           int
		balance           sql.NullString
		totalAuthorized   sql.NullString
		balanceLastUpdate sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Label, &c.Secret, &c.BoundUA, &c.BoundProxy, &enabled,
		&balance, &totalAuthorized, &balanceLastUpdate, &c.LastObservedError, &c.Memo,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	if balance.Valid {
		d, err := decimal.NewFromString(balance.String)
		if err == nil {
			c.Balance = &d
		}
	}
	if totalAuthorized.Valid {
		d, err := decimal.NewFromString(totalAuthorized.String)
		if err == nil {
			c.TotalAuthorized = &d
		}
	}
	if balanceLastUpdate.Valid {
		if t, err := time.Parse(time.RFC3339, balanceLastUpdate.String); err == nil {
			c.BalanceLastUpdate = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decimalPtrToNullable(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func timePtrToNullable(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
