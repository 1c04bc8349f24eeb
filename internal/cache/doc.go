// Package cache — индекс детерминированных результатов.
//
// Ключ — sha256 над канонизированным JSON из (сервис, программа,
// отсортированные параметры, отсортированные контрольные суммы
// входов). Правка любого параметра или входа меняет ключ, поэтому
// отдельная инвалидация не нужна. TTL per-операция берётся из
// манифеста; просроченные записи удаляются лениво при lookup.
package cache
