package worker

import "errors"

// Ошибки воркера.
var (
	// ErrHydrateFailed — hydrate API недоступен или вернул ошибку.
	ErrHydrateFailed = errors.New("hydrate request failed")

	// ErrNoProgram — hydrate вернул шаг без программы.
	ErrNoProgram = errors.New("hydrated step has no program")
)
