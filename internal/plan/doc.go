// Package plan — планировщик графа.
//
// Планировщик — чистая функция над документом задания: по текущим
// статусам шагов и переходам он вычисляет готовые к отправке шаги,
// заблокированные шаги, материализацию fan-out и инициализацию
// fan-in счётчиков. Никакого I/O: применение результата к хранилищу
// и очередям — работа оркестратора.
package plan
