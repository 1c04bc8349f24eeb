// Package telemetry — структурное логирование и метрики.
//
// Логирование — log/slog: уровень и формат задаются переменными
// LOG_LEVEL и LOG_FORMAT. Метрики — prometheus, отдаются на /metrics
// каждого HTTP-листенера.
package telemetry
