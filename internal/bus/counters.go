package bus

import (
	"context"
	"fmt"
	"time"
)

// dispatchMarkTTL — срок жизни маркера идемпотентной отправки.
// Достаточно пережить любое легальное время жизни задания.
const dispatchMarkTTL = 7 * 24 * time.Hour

// joinKey — ключ fan-in счётчика: job:<job_id>:join:<step_name>.
func joinKey(jobID, stepName string) string {
	return fmt.Sprintf("job:%s:join:%s", jobID, stepName)
}

// InitJoin заводит fan-in счётчик, если его ещё нет.
// Счётчик инициализируется числом параллельных producer-инстансов.
func (b *Bus) InitJoin(ctx context.Context, jobID, stepName string, count int) error {
	err := b.withRetry(ctx, func() error {
		return b.rdb.SetNX(ctx, joinKey(jobID, stepName), count, dispatchMarkTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("init join %s/%s: %w", jobID, stepName, err)
	}
	return nil
}

// BumpJoin увеличивает существующий fan-in счётчик.
// Используется при материализации fan-out: статический счётчик уже
// учёл producer-шаг как единицу, материализация добавляет N-1.
func (b *Bus) BumpJoin(ctx context.Context, jobID, stepName string, delta int64) error {
	if delta == 0 {
		return nil
	}
	err := b.withRetry(ctx, func() error {
		return b.rdb.IncrBy(ctx, joinKey(jobID, stepName), delta).Err()
	})
	if err != nil {
		return fmt.Errorf("bump join %s/%s: %w", jobID, stepName, err)
	}
	return nil
}

// DecrJoin атомарно уменьшает fan-in счётчик и возвращает остаток.
// Декремент-и-чтение — это happens-before ребро с готовностью join'а:
// ровно один вызов увидит ноль.
func (b *Bus) DecrJoin(ctx context.Context, jobID, stepName string) (int64, error) {
	var remaining int64
	err := b.withRetry(ctx, func() error {
		var err error
		remaining, err = b.rdb.Decr(ctx, joinKey(jobID, stepName)).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("decr join %s/%s: %w", jobID, stepName, err)
	}
	return remaining, nil
}

// ResetJoin удаляет fan-in счётчик (при retry).
func (b *Bus) ResetJoin(ctx context.Context, jobID, stepName string) error {
	err := b.withRetry(ctx, func() error {
		return b.rdb.Del(ctx, joinKey(jobID, stepName)).Err()
	})
	if err != nil {
		return fmt.Errorf("reset join %s/%s: %w", jobID, stepName, err)
	}
	return nil
}

// dispatchKey — маркер идемпотентной отправки шага.
// Поколение retry входит в ключ: retry снимает подавление.
func dispatchKey(jobID, stepName string, instance, generation int) string {
	return fmt.Sprintf("job:%s:dispatch:%s:%d:gen%d", jobID, stepName, instance, generation)
}

// MarkDispatch атомарно помечает отправку (job, step, instance,
// generation). Возвращает false, если отправка уже была — повторная
// подавляется.
func (b *Bus) MarkDispatch(ctx context.Context, jobID, stepName string, instance, generation int) (bool, error) {
	var first bool
	err := b.withRetry(ctx, func() error {
		var err error
		first, err = b.rdb.SetNX(ctx, dispatchKey(jobID, stepName, instance, generation), 1, dispatchMarkTTL).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("mark dispatch %s/%s: %w", jobID, stepName, err)
	}
	return first, nil
}

// UnmarkDispatch снимает маркер отправки: push в очередь не удался,
// шаг должен быть отправлен повторно следующей волной.
func (b *Bus) UnmarkDispatch(ctx context.Context, jobID, stepName string, instance, generation int) error {
	err := b.withRetry(ctx, func() error {
		return b.rdb.Del(ctx, dispatchKey(jobID, stepName, instance, generation)).Err()
	})
	if err != nil {
		return fmt.Errorf("unmark dispatch %s/%s: %w", jobID, stepName, err)
	}
	return nil
}
