// Package manifest описывает возможности внешних воркер-сервисов.
//
// Манифест сервиса перечисляет операции (программы инструментов),
// дескрипторы их параметров (тип, диапазон, enum), детерминизм и TTL
// кэша, таймаут и признак fan-out. Валидатор сверяет конвейер с
// манифестами; диспетчер берёт из них детерминизм и TTL; sweeper —
// таймауты.
//
// Реестр собирается из встроенных манифестов (flucoma, librosa) и
// YAML-файлов каталога MANIFEST_DIR.
package manifest
