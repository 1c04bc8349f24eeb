package domain

import "fmt"

// Transition — ребро графа конвейера.
//
// Когда шаг From завершается, каждый его именованный выход присваивается
// именованному входу шага To согласно Mapping.
type Transition struct {
	// From — имя шага-производителя.
	From string `json:"from_step_name"`

	// To — имя шага-потребителя.
	To string `json:"to_step_name"`

	// Mapping — выход producer'а → вход consumer'а.
	Mapping map[string]string `json:"output_to_input_mapping"`
}

// Apply применяет маппинг к произведённым выходам producer'а.
// Возвращает связанные входы consumer'а.
//
// Индексированные выходы fan-out producer'а ("slice.0", "slice.1", …)
// переносят индекс на вход: slice→audio даёт audio.0, audio.1, ….
func (t *Transition) Apply(produced map[string]string) map[string]string {
	bound := make(map[string]string)

	for output, input := range t.Mapping {
		if ref, ok := produced[output]; ok {
			bound[input] = ref
			continue
		}
		// Индексированные выходы: "<output>.<index>"
		prefix := output + "."
		for key, ref := range produced {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				bound[input+"."+key[len(prefix):]] = ref
			}
		}
	}

	return bound
}

// String возвращает читаемое представление ребра для логов.
func (t *Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}
