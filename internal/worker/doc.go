// Package worker — обёртка воркер-сервиса аудио-инструментов.
//
// Воркер:
//   - Блокирующе читает тонкие сообщения своей сервисной очереди
//   - Забирает контекст шага через hydrate API оркестратора
//   - Собирает команду из CommandSpec и исполняет инструмент
//   - Считает контрольные суммы выходов
//   - Публикует исход (complete/failed) в статусную очередь
//
// Воркер stateless и не имеет доступа к Job Store: всё состояние
// приходит через hydrate, все мутации уходят статусными сообщениями.
// Несколько воркеров одного сервиса масштабируются горизонтально,
// потребляя одну очередь.
package worker
