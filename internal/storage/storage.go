// Package storage defines the collaborator interfaces the gateway's four
// subsystems persist through. The SQLite-backed sqlite.Store
// (internal/storage/sqlite) satisfies all of them; this package does not
// import it.
package storage

import (
	"context"

	gateway "github.com/amppool/gateway/internal"
)

// CredentialStore is the persistence interface behind the key pool.
type CredentialStore interface {
	ListAvailable(ctx context.Context, excludeIDs []int64, limit int) ([]*gateway.Credential, error)
	Get(ctx context.Context, id int64) (*gateway.Credential, error)
	InsertCredential(ctx context.Context, c *gateway.Credential) error
	Update(ctx context.Context, id int64, fields map[string]any) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Disable(ctx context.Context, id int64, reason gateway.ObservedError) error
	ListMetered(ctx context.Context) ([]*gateway.Credential, error)
}

// LogStore is the persistence interface behind the request-log writer.
type LogStore interface {
	InsertLog(ctx context.Context, rec *gateway.RequestLog) error
	QueryLogs(ctx context.Context, filter gateway.LogFilter) ([]*gateway.RequestLog, error)
	SumCost(ctx context.Context, keyID int64, status gateway.LogStatus) (string, error)
}

// RollupStore is the persistence interface behind the rollup worker.
type RollupStore interface {
	Upsert(ctx context.Context, r *gateway.Rollup) error
	QueryRollups(ctx context.Context, filter gateway.LogFilter) ([]*gateway.Rollup, error)
}

// ConfigStore is the config_store collaborator (see internal/config).
type ConfigStore interface {
	GetAll(ctx context.Context) (map[string]string, error)
	PutMany(ctx context.Context, values map[string]string) error
}

// Store is the union every concrete storage backend must satisfy.
type Store interface {
	CredentialStore
	LogStore
	RollupStore
	ConfigStore
	Ping(ctx context.Context) error
	Close() error
}
