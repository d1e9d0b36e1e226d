package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultRetryInterval  = time.Second
	defaultRedisURL       = "redis://localhost:6379/0"
)

// RedisConfig — параметры Redis.
type RedisConfig struct {
	URL string // default: redis://localhost:6379/0

	// TTL — срок жизни записи, 0 — без срока.
	TTL time.Duration

	// ConnectTimeout — общее время ожидания Redis при старте (default: 30s).
	ConnectTimeout time.Duration

	// RetryInterval — пауза между ping (default: 1s).
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Redis — хранилище в Redis: SET key json [EX ttl], GET key.
type Redis struct {
	client *redis.Client
	addr   string
	ttl    time.Duration
	logger *slog.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis подключается к Redis и ждёт ответа на ping, пока не истечёт
// ConnectTimeout. Ошибка подключения оборачивает ErrUnavailable.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	url := cfg.URL
	if url == "" {
		url = defaultRedisURL
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := 0
	ping := func() error {
		attempt++
		return client.Ping(ctx).Err()
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("redis not reachable, retrying",
			"addr", opts.Addr,
			"attempt", attempt,
			"retry_in", next,
			"error", err,
		)
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.RetryNotify(ping, bo, notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis %s after %d attempts: %v", ErrUnavailable, opts.Addr, attempt, err)
	}

	logger.Info("connected to redis", "addr", opts.Addr, "db", opts.DB, "ttl", cfg.TTL)
	return &Redis{
		client: client,
		addr:   opts.Addr,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (r *Redis) Put(ctx context.Context, key string, value any) error {
	b, err := encode(key, value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return true, decode(key, raw, dst)
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", r.addr, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Addr возвращает host:port сервера.
func (r *Redis) Addr() string {
	return r.addr
}
