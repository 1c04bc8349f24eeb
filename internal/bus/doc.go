// Package bus — шина очередей и счётчиков на Redis.
//
// Структура:
//   - bus.go      — подключение, Push/Pop с ограниченным backoff
//   - messages.go — формы сообщений и имена очередей
//   - counters.go — fan-in счётчики и маркеры идемпотентной отправки
//
// Очереди:
//   - <service>_queue    — тонкие сообщения о готовых шагах; консьюмер —
//     воркер соответствующего сервиса
//   - job_status_events  — статусные сообщения воркеров; консьюмер —
//     оркестратор
//
// По очередям ходят только идентификаторы: полное состояние шага воркер
// забирает через hydrate API. Счётчики join'ов — атомарный DECR: ноль
// означает, что все параллельные producer'ы завершились.
package bus
