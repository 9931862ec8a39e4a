package cursorcache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"magpie/internal/logging"
)

// Redis is a redis-backed cursor cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisConfig holds connection settings for the cursor cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "magpie:cursor:"
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + strings.ToLower(k) }

func (r *Redis) SaveCursor(key, cursor string) {
	b, err := json.Marshal(Entry{Cursor: cursor, LastUpdated: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := r.client.Set(context.Background(), r.key(key), b, r.ttl).Err(); err != nil {
		logging.Warn("cursor_cache_save", map[string]any{"error": err.Error()})
	}
}

func (r *Redis) GetCursor(key string) (string, bool) {
	b, err := r.client.Get(context.Background(), r.key(key)).Bytes()
	if err != nil {
		return "", false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil || e.Cursor == "" {
		return "", false
	}
	return e.Cursor, true
}

func (r *Redis) ClearCursor(key string) {
	if err := r.client.Del(context.Background(), r.key(key)).Err(); err != nil {
		logging.Warn("cursor_cache_clear", map[string]any{"error": err.Error()})
	}
}

// Close closes the redis connection.
func (r *Redis) Close() error { return r.client.Close() }

var _ Cache = (*Redis)(nil)
