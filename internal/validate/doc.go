// Package validate проверяет отправленный конвейер против манифестов
// воркер-сервисов и нормализует его перед сохранением.
//
// Любое нарушение фатально: задание с ошибкой валидации никогда не
// сохраняется. Ошибки структурированы (ValidationError) и называют
// шаг и поле, вызвавшие отказ.
package validate
