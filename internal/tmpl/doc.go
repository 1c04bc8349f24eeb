// Package tmpl подставляет плейсхолдеры в шаблоны путей и параметров.
//
// Поддерживаются:
//   - {{job_id}}, {{user_id}} — идентичность задания
//   - {{step_name}}, {{composite_name}}, {{instance_index}} — идентичность шага
//   - {{steps.<имя>.outputs.<плейсхолдер>}} — ссылки на выходы других шагов
//
// Синтаксис фиксирован внешним контрактом (его же используют клиенты в
// submit-запросах), поэтому подстановка выполняется регулярными
// выражениями, а не text/template.
package tmpl
