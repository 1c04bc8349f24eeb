package store

import "errors"

// Ошибки хранилища.
var (
	// ErrNotFound — задание не найдено.
	ErrNotFound = errors.New("job not found")

	// ErrVersionConflict — документ изменён конкурентно; мутацию
	// нужно повторить поверх свежей версии.
	ErrVersionConflict = errors.New("job version conflict")

	// ErrAlreadyExists — задание с таким ID уже сохранено.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrCASFailed — compare-and-set статуса не прошёл: текущий
	// статус не совпал с ожидаемым.
	ErrCASFailed = errors.New("job status compare-and-set failed")
)
