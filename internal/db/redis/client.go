package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/maomao/internal/db"
)

// Compile-time checks.
var (
	_ db.Index   = (*Store)(nil)
	_ db.KVStore = (*Store)(nil)
)

// Dialect selects the search module flavour.
type Dialect string

// Supported dialects.
const (
	// DialectRedis is Redis 8+ with the query engine: TAG contains queries
	// ({*v*}) and bare FT.SEARCH.
	DialectRedis Dialect = "redis"
	// DialectValkey is valkey-search: KNN with exact TAG/NUMERIC prefilters only.
	DialectValkey Dialect = "valkey"
)

// Config holds connection parameters for a Redis/Valkey store.
type Config struct {
	Addrs      []string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
	Collection string
	Dialect    Dialect
}

// Store implements db.Index and db.KVStore via rueidis.
type Store struct {
	client     rueidis.Client
	dialect    Dialect
	index      string
	keyPrefix  string
	collection string
}

// NewStore creates a Redis/Valkey store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return newStore(client, cfg), nil
}

func newStore(client rueidis.Client, cfg Config) *Store {
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = DialectRedis
	}
	return &Store{
		client:     client,
		dialect:    dialect,
		index:      cfg.KeyPrefix + cfg.Collection + ":idx",
		keyPrefix:  cfg.KeyPrefix + cfg.Collection + ":",
		collection: cfg.Collection,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
