// Package domain содержит доменные типы Waveline.
//
// Основные сущности:
//   - Job        — задание: конвейер шагов с переходами между ними
//   - Step       — один шаг конвейера, исполняемый внешним воркер-сервисом
//   - Transition — ребро графа: маппинг выходов producer'а на входы consumer'а
//   - CommandSpec — сериализуемое описание shell-команды аудио-инструмента
//
// Типы не содержат I/O — только данные и переходы состояний (MarkX-методы).
package domain
