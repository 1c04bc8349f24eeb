// Package api — HTTP-поверхность оркестрации.
//
// Операции:
//   - POST /api/v1/jobs                                — submit конвейера
//   - GET  /api/v1/jobs/{id}                           — снапшот документа
//   - POST /api/v1/jobs/{id}/retry                     — повтор упавшего задания
//   - GET  /api/v1/jobs/{id}/steps/{name}/hydrate      — контекст шага для воркера
//
// Ответы — конверт {"data": …} либо {"error": {code, message}}.
package api
