package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Параметры повторов для транзиентных ошибок Redis.
const (
	retryAttempts     = 5
	retryInitialDelay = 100 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
)

// ErrQueueUnavailable — шина недоступна после исчерпания повторов.
var ErrQueueUnavailable = errors.New("queue bus unavailable")

// Bus — клиент шины очередей.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New подключается к Redis и проверяет соединение.
func New(ctx context.Context, addr string, logger *slog.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis", "addr", addr)
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Close закрывает соединение.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Redis возвращает низкоуровневый клиент для соседних подсистем
// (индекс кэша живёт в том же Redis).
func (b *Bus) Redis() *redis.Client {
	return b.rdb
}

// Push кладёт JSON-сообщение в хвост очереди.
// Транзиентные ошибки повторяются с экспоненциальной задержкой.
func (b *Bus) Push(ctx context.Context, queue string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = b.withRetry(ctx, func() error {
		return b.rdb.RPush(ctx, queue, body).Err()
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}

	b.logger.Debug("pushed message", "queue", queue)
	return nil
}

// Pop блокирующе забирает сообщение из головы очереди.
// Возвращает nil без ошибки по истечении timeout — вызывающий цикл
// просто повторяет pop.
func (b *Bus) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	result, err := b.rdb.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: blpop %s: %v", ErrQueueUnavailable, queue, err)
	}
	// BLPop возвращает пару [queue, payload].
	return []byte(result[1]), nil
}

// Requeue возвращает неподтверждённое сообщение в голову очереди,
// чтобы оно было доставлено повторно первым.
func (b *Bus) Requeue(ctx context.Context, queue string, payload []byte) error {
	err := b.withRetry(ctx, func() error {
		return b.rdb.LPush(ctx, queue, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("requeue to %s: %w", queue, err)
	}
	return nil
}

// QueueLen возвращает длину очереди (для метрик).
func (b *Bus) QueueLen(ctx context.Context, queue string) (int64, error) {
	return b.rdb.LLen(ctx, queue).Result()
}

// withRetry выполняет op с ограниченным экспоненциальным backoff.
func (b *Bus) withRetry(ctx context.Context, op func() error) error {
	delay := retryInitialDelay

	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Warn("bus operation failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}

	return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
}
