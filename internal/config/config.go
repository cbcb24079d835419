// Package config handles YAML configuration loading with environment variable
// expansion and exposes a versioned, read-mostly configuration snapshot.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync/atomic"

	"go.yaml.in/yaml/v3"
)

// Selection strategies accepted by KeySelectionStrategy. Only Random is
// implemented; the others are accepted on the wire and coerced to Random.
const (
	SelectionRandom     = 0
	SelectionWeighted   = 1
	SelectionRoundRobin = 2
)

// Snapshot is an immutable configuration view. Every caller that needs a
// stable read should obtain one from Registry.Current and hold onto it for
// the duration of the operation rather than re-reading mid-request.
type Snapshot struct {
	Host         string
	Port         string
	APIPrefix    string
	APISecret    string
	AdminPrefix  string
	AdminUser    string
	AdminPass    string
	JWTSecretKey string
	DBEcho       bool
	DatabaseDSN  string

	KeyPoolSize          int
	KeySelectionStrategy int
	UAList               []string
	ProxyList            []string
	LogConversationContent bool
	OpenAIModels         []string
	AnthropicModels      []string

	OpenAIBaseURL    string
	AnthropicBaseURL string
}

// clone returns a defensive deep copy safe to hand to a caller.
func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.UAList = append([]string(nil), s.UAList...)
	c.ProxyList = append([]string(nil), s.ProxyList...)
	c.OpenAIModels = append([]string(nil), s.OpenAIModels...)
	c.AnthropicModels = append([]string(nil), s.AnthropicModels...)
	return &c
}

// Registry guards a versioned configuration snapshot behind an atomic
// pointer: copy-on-write for writers, lock-free consistent reads for
// everyone else.
type Registry struct {
	ptr atomic.Pointer[Snapshot]
}

// NewRegistry constructs a Registry seeded with snap.
func NewRegistry(snap *Snapshot) *Registry {
	r := &Registry{}
	r.ptr.Store(snap)
	return r
}

// Current returns a defensive copy of the latest snapshot.
func (r *Registry) Current() *Snapshot {
	return r.ptr.Load().clone()
}

// Replace installs a new snapshot, visible to subsequent Current callers.
func (r *Registry) Replace(snap *Snapshot) {
	r.ptr.Store(snap)
}

// fileConfig is the on-disk YAML shape; it is translated into a Snapshot
// after defaulting and env-var expansion.
type fileConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		DSN  string `yaml:"dsn"`
		Echo bool   `yaml:"echo"`
	} `yaml:"database"`
	Auth struct {
		APIPrefix    string `yaml:"api_prefix"`
		APISecret    string `yaml:"api_secret"`
		AdminPrefix  string `yaml:"admin_prefix"`
		AdminUser    string `yaml:"admin_username"`
		AdminPass    string `yaml:"admin_password"`
		JWTSecretKey string `yaml:"jwt_secret_key"`
	} `yaml:"auth"`
	Pool struct {
		Size              int      `yaml:"size"`
		SelectionStrategy int      `yaml:"selection_strategy"`
		UserAgents        []string `yaml:"user_agents"`
		Proxies           []string `yaml:"proxies"`
	} `yaml:"pool"`
	Telemetry struct {
		LogConversationContent bool `yaml:"log_conversation_content"`
	} `yaml:"telemetry"`
	Models struct {
		OpenAI    []string `yaml:"openai"`
		Anthropic []string `yaml:"anthropic"`
	} `yaml:"models"`
	Providers struct {
		OpenAIBaseURL    string `yaml:"openai_base_url"`
		AnthropicBaseURL string `yaml:"anthropic_base_url"`
	} `yaml:"providers"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values,
// leaving the pattern untouched when the variable is unset.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Server.Host = envOr("HOST", "0.0.0.0")
	fc.Server.Port = envOr("PORT", "8080")
	fc.Database.DSN = "./data/amp_pool.db"
	fc.Database.Echo, _ = strconv.ParseBool(os.Getenv("DB_ECHO"))
	fc.Auth.APIPrefix = envOr("API_PREFIX", "")
	fc.Auth.APISecret = envOr("API_SECRET", "")
	fc.Auth.AdminPrefix = envOr("ADMIN_PREFIX", "/admin")
	fc.Auth.AdminUser = envOr("ADMIN_USERNAME", "")
	fc.Auth.AdminPass = envOr("ADMIN_PASSWORD", "")
	fc.Auth.JWTSecretKey = envOr("JWT_SECRET_KEY", "")
	fc.Pool.Size = 5
	fc.Pool.SelectionStrategy = SelectionRandom
	fc.Models.OpenAI = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1"}
	fc.Models.Anthropic = []string{"claude-opus-4-1", "claude-sonnet-4-5", "claude-haiku-4-5"}
	fc.Providers.OpenAIBaseURL = "https://ampcode.com/api/provider/openai"
	fc.Providers.AnthropicBaseURL = "https://ampcode.com/api/provider/anthropic"
	return fc
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// normalizePrefix ensures a path prefix is either "" or starts with "/" and
// never ends with a trailing slash.
func normalizePrefix(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if p[0] != '/' {
		p = "/" + p
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// Load reads and parses a YAML config file (if path is non-empty and
// exists), expands ${VAR} references, defaults missing fields, and returns
// a Snapshot. Load never rejects a value it can coerce: an invalid
// selection strategy is logged and forced to Random rather than erroring.
func Load(path string) (*Snapshot, error) {
	fc := defaultFileConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			data = expandEnv(data)
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	strategy := fc.Pool.SelectionStrategy
	if strategy != SelectionRandom && strategy != SelectionWeighted && strategy != SelectionRoundRobin {
		slog.Warn("invalid key_selection_strategy, coercing to random", "value", strategy)
		strategy = SelectionRandom
	}
	if strategy != SelectionRandom {
		slog.Warn("key selection strategy not implemented, using random", "requested", strategy)
		strategy = SelectionRandom
	}

	poolSize := fc.Pool.Size
	if poolSize < 1 {
		poolSize = 1
	}

	snap := &Snapshot{
		Host:                   fc.Server.Host,
		Port:                   fc.Server.Port,
		APIPrefix:              normalizePrefix(fc.Auth.APIPrefix),
		APISecret:              fc.Auth.APISecret,
		AdminPrefix:            normalizePrefix(fc.Auth.AdminPrefix),
		AdminUser:              fc.Auth.AdminUser,
		AdminPass:              fc.Auth.AdminPass,
		JWTSecretKey:           fc.Auth.JWTSecretKey,
		DBEcho:                 fc.Database.Echo,
		DatabaseDSN:            fc.Database.DSN,
		KeyPoolSize:            poolSize,
		KeySelectionStrategy:   strategy,
		UAList:                 fc.Pool.UserAgents,
		ProxyList:              fc.Pool.Proxies,
		LogConversationContent: fc.Telemetry.LogConversationContent,
		OpenAIModels:           fc.Models.OpenAI,
		AnthropicModels:        fc.Models.Anthropic,
		OpenAIBaseURL:          fc.Providers.OpenAIBaseURL,
		AnthropicBaseURL:       fc.Providers.AnthropicBaseURL,
	}
	return snap, nil
}
