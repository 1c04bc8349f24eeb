package manifest

import "errors"

// Ошибки реестра манифестов.
var (
	// ErrUnknownService — сервис не описан ни одним манифестом.
	ErrUnknownService = errors.New("unknown worker service")

	// ErrUnknownOperation — программа не объявлена в манифесте сервиса.
	ErrUnknownOperation = errors.New("unknown operation for service")

	// ErrDuplicateService — два манифеста объявляют один сервис.
	ErrDuplicateService = errors.New("duplicate service manifest")
)
