package orchestrator

import "errors"

// Ошибки движка.
var (
	// ErrJobNotFound — задание не найдено.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRetryable — retry доступен только для failed заданий.
	ErrJobNotRetryable = errors.New("job is not in failed status")

	// ErrNothingToRetry — в задании нет упавших шагов.
	ErrNothingToRetry = errors.New("job has no failed step")

	// ErrStaleStatus — статусное сообщение для шага, который уже не
	// in-flight (дубликат, поздний результат после таймаута или retry).
	// Такие сообщения молча отбрасываются.
	ErrStaleStatus = errors.New("stale status message")

	// ErrStepNotFound — статусное сообщение ссылается на неизвестный шаг.
	ErrStepNotFound = errors.New("step not found in job")
)
