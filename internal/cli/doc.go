// Package cli — команды CLI-клиента Waveline.
//
// Структура:
//   - client.go — HTTP-клиент API (типы ответов дублируются,
//     CLI не импортирует internal/api)
//   - job.go    — команды job submit/get/retry/watch
//   - output.go — табличный и JSON вывод
package cli
