// Package store — долговременное хранилище документов заданий.
//
// Хранилище — единственный источник истины о состоянии конвейера.
// Мутации сериализуются per-job оптимистичной версией: каждое
// обновление — compare-and-set по колонке version; конфликт ведёт к
// перечитыванию и повтору (Mutate). Терминальный переход статуса
// задания дополнительно защищён CAS по самому статусу (CASStatus),
// чтобы конкурирующие консьюмеры не записали его дважды.
package store
