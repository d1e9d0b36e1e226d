// Package store — хранилище результатов задач «ключ → JSON».
//
// Бэкенды: Redis (основной), PostgreSQL и память. Хранилище не знает
// о статусах задач, правила перезаписи применяет потребитель результатов.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrUnavailable — хранилище недоступно при подключении.
	ErrUnavailable = errors.New("store unavailable")

	// ErrEmptyKey — пустой ключ.
	ErrEmptyKey = errors.New("empty key")

	// ErrUnknownBackend — неизвестное имя бэкенда.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrCorrupt — сохранённое значение не декодируется в запрошенный тип.
	ErrCorrupt = errors.New("corrupt value")
)

// Store — хранилище значений по ключу. Значения сериализуются в JSON.
type Store interface {
	// Put записывает значение, заменяя предыдущее.
	Put(ctx context.Context, key string, value any) error

	// Get читает значение в dst. Возвращает false, если ключа нет.
	// Нечитаемое значение даёт ErrCorrupt.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error

	Close() error
}

// Get читает значение типа T.
func Get[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, key, &v)
	return v, ok, err
}

// Имена бэкендов.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options — параметры Open.
type Options struct {
	Backend string // redis | postgres | memory
	URL     string

	// TTL — срок жизни записи в Redis, 0 — без срока.
	TTL time.Duration

	// ConnectTimeout и RetryInterval ограничивают ожидание хранилища при старте.
	ConnectTimeout time.Duration
	RetryInterval  time.Duration

	Logger *slog.Logger
}

// Open подключается к выбранному бэкенду.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		r, err := NewRedis(ctx, RedisConfig{
			URL:            opts.URL,
			TTL:            opts.TTL,
			ConnectTimeout: opts.ConnectTimeout,
			RetryInterval:  opts.RetryInterval,
			Logger:         opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendPostgres:
		p, err := NewPostgres(ctx, PostgresConfig{
			URL:            opts.URL,
			ConnectTimeout: opts.ConnectTimeout,
			Logger:         opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func encode(key string, value any) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return b, nil
}

func decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorrupt, key, err)
	}
	return nil
}
