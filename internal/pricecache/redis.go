package pricecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cached quotes between processes. Expiry is delegated to the server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOptions configure the shared cache.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedis dials the configured server.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisWithClient(client, opts.TTL, opts.Prefix)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "otcshield:price:"
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (r *Redis) key(symbol string) string {
	return r.prefix + strings.ToUpper(symbol)
}

// Get reads a cached price.
func (r *Redis) Get(ctx context.Context, symbol string) (float64, bool, error) {
	raw, err := r.client.Get(ctx, r.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached price: %w", err)
	}
	return price, true, nil
}

// Set writes a price with the configured expiry.
func (r *Redis) Set(ctx context.Context, symbol string, price float64) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	if err := r.client.Set(ctx, r.key(symbol), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)
