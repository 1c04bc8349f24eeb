package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix — пространство ключей кэша в Redis.
const keyPrefix = "cache:"

// Entry — кэш-запись: выходы детерминированной операции.
type Entry struct {
	// Outputs — плейсхолдер → ссылка на артефакт.
	Outputs map[string]string `json:"outputs"`

	// Checksums — контрольные суммы выходов.
	Checksums map[string]string `json:"checksums,omitempty"`

	// ProducedAt — время записи.
	ProducedAt time.Time `json:"produced_at"`

	// TTLMinutes — срок жизни на момент записи.
	TTLMinutes int `json:"ttl_minutes"`
}

// Index — индекс кэша на Redis.
type Index struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewIndex создаёт индекс поверх существующего подключения.
func NewIndex(rdb *redis.Client, logger *slog.Logger) *Index {
	return &Index{rdb: rdb, logger: logger}
}

// Lookup возвращает запись по ключу. Просроченные записи Redis удаляет
// сам (TTL ключа); запись с истёкшим логическим сроком дополнительно
// перепроверяется и лениво удаляется.
func (i *Index) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	body, err := i.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		// Повреждённая запись эквивалентна промаху.
		i.rdb.Del(ctx, keyPrefix+key)
		return nil, false, nil
	}

	expiry := entry.ProducedAt.Add(time.Duration(entry.TTLMinutes) * time.Minute)
	if entry.TTLMinutes > 0 && time.Now().After(expiry) {
		i.rdb.Del(ctx, keyPrefix+key)
		return nil, false, nil
	}

	return &entry, true, nil
}

// Put сохраняет запись с TTL операции.
func (i *Index) Put(ctx context.Context, key string, outputs, checksums map[string]string, ttlMinutes int) error {
	if ttlMinutes <= 0 {
		return nil // операция без TTL не кэшируется
	}

	entry := Entry{
		Outputs:    outputs,
		Checksums:  checksums,
		ProducedAt: time.Now().UTC(),
		TTLMinutes: ttlMinutes,
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ttl := time.Duration(ttlMinutes) * time.Minute
	if err := i.rdb.Set(ctx, keyPrefix+key, body, ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	i.logger.Debug("cache entry written", "key", key, "ttl_minutes", ttlMinutes)
	return nil
}

// Sweep удаляет записи с истёкшим логическим сроком. Redis и сам
// выселяет ключи по TTL; проход нужен для записей, чей логический срок
// короче TTL ключа после повторных Put.
func (i *Index) Sweep(ctx context.Context) (int, error) {
	var removed int
	iter := i.rdb.Scan(ctx, 0, keyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		body, err := i.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(body, &entry); err != nil {
			i.rdb.Del(ctx, key)
			removed++
			continue
		}
		expiry := entry.ProducedAt.Add(time.Duration(entry.TTLMinutes) * time.Minute)
		if entry.TTLMinutes > 0 && time.Now().After(expiry) {
			i.rdb.Del(ctx, key)
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache sweep: %w", err)
	}
	return removed, nil
}
