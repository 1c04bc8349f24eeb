// Package orchestrator — движок оркестрации заданий.
//
// Связывает планировщик (чистые функции) с хранилищем, шиной и кэшем:
//   - engine.go   — Engine: submit, advance (волна отправки), финализация
//   - dispatch.go — отправка готовых шагов: кэш, идемпотентность, очереди
//   - consumer.go — пул консьюмеров статусной очереди
//   - retry.go    — контроллер retry: точка возобновления и сброс
//   - sweeper.go  — фоновый проход: таймауты шагов и GC кэша
//
// Движок — «мозг» системы: единственное место, где статусы шагов
// продвигаются и задание финализируется.
package orchestrator
