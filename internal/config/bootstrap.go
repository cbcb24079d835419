package config

import (
	"context"
	"strconv"
)

// Store is the config_store collaborator: a flat string-keyed overlay
// persisted alongside the rest of the gateway's data, taking precedence over
// env/YAML defaults when present.
type Store interface {
	GetAll(ctx context.Context) (map[string]string, error)
	PutMany(ctx context.Context, values map[string]string) error
}

// Known system_config keys.
const (
	KeyAPIPrefix    = "api_prefix"
	KeyAPISecret    = "api_secret"
	KeyAdminPrefix  = "admin_prefix"
	KeyAdminUser    = "admin_username"
	KeyAdminPass    = "admin_password"
	KeyJWTSecretKey = "jwt_secret_key"
	KeyPoolSize     = "key_pool_size"
	KeySelStrategy  = "key_selection_strategy"
)

// ApplyStoreOverlay overlays persisted system_config rows on top of snap,
// returning a new Snapshot. Missing or unparsable keys leave the existing
// value untouched.
func ApplyStoreOverlay(ctx context.Context, snap *Snapshot, store Store) (*Snapshot, error) {
	if store == nil {
		return snap, nil
	}
	values, err := store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := snap.clone()
	if v, ok := values[KeyAPIPrefix]; ok {
		out.APIPrefix = normalizePrefix(v)
	}
	if v, ok := values[KeyAPISecret]; ok {
		out.APISecret = v
	}
	if v, ok := values[KeyAdminPrefix]; ok {
		out.AdminPrefix = normalizePrefix(v)
	}
	if v, ok := values[KeyAdminUser]; ok {
		out.AdminUser = v
	}
	if v, ok := values[KeyAdminPass]; ok {
		out.AdminPass = v
	}
	if v, ok := values[KeyJWTSecretKey]; ok {
		out.JWTSecretKey = v
	}
	if v, ok := values[KeyPoolSize]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			out.KeyPoolSize = n
		}
	}
	if v, ok := values[KeySelStrategy]; ok {
		if n, err := strconv.Atoi(v); err == nil && n == SelectionRandom {
			out.KeySelectionStrategy = n
		}
	}
	return out, nil
}
