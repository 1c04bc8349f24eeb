package validate

import "errors"

// Ошибки валидации конвейера.
var (
	// ErrEmptyPipeline — конвейер не содержит шагов.
	ErrEmptyPipeline = errors.New("pipeline has no steps")

	// ErrEmptyStepName — шаг без имени.
	ErrEmptyStepName = errors.New("step has empty name")

	// ErrDuplicateStepName — несколько шагов с одним именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrUnknownService — сервис шага не описан манифестом.
	ErrUnknownService = errors.New("step names unknown service")

	// ErrUnknownOperation — программа шага не объявлена в манифесте.
	ErrUnknownOperation = errors.New("step names unknown operation")

	// ErrBadParameter — параметр не прошёл проверку типа или диапазона.
	ErrBadParameter = errors.New("parameter check failed")

	// ErrMissingParameter — обязательный параметр не задан.
	ErrMissingParameter = errors.New("required parameter missing")

	// ErrUnknownTransitionStep — переход ссылается на несуществующий шаг.
	ErrUnknownTransitionStep = errors.New("transition names unknown step")

	// ErrBackEdge — переход ведёт назад или в самого себя.
	ErrBackEdge = errors.New("transition must go forward in declared order")

	// ErrCyclicPipeline — граф переходов содержит цикл.
	ErrCyclicPipeline = errors.New("pipeline graph has a cycle")

	// ErrUnboundInput — входной плейсхолдер не связан ни литералом,
	// ни переходом.
	ErrUnboundInput = errors.New("input placeholder is unbound")

	// ErrDoubleBinding — плейсхолдер связан и литералом, и переходом,
	// либо одним и тем же ребром дважды.
	ErrDoubleBinding = errors.New("input placeholder is bound twice")

	// ErrUnknownOutput — переход ссылается на необъявленный выход.
	ErrUnknownOutput = errors.New("transition maps unknown output")

	// ErrDuplicateOutput — два выхода шага указывают в одно назначение.
	ErrDuplicateOutput = errors.New("duplicate output destination")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Step    string // имя шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step != "" {
		return "step " + e.Step + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// newError создаёт ValidationError.
func newError(step, field, message string, err error) *ValidationError {
	return &ValidationError{Step: step, Field: field, Message: message, Err: err}
}
