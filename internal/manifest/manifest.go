package manifest

import (
	"fmt"
	"math"
)

// ParamType — тип параметра операции.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
)

// ParamSpec — дескриптор одного параметра операции.
type ParamSpec struct {
	// Type — тип значения.
	Type ParamType `yaml:"type" json:"type"`

	// Required — обязателен ли параметр.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Min/Max — границы диапазона для числовых типов.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Enum — допустимые значения для строковых типов.
	Enum []string `yaml:"enum,omitempty" json:"enum,omitempty"`

	// Default — значение по умолчанию для необязательных параметров.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`
}

// FanOutSpec — явное объявление fan-out операции.
//
// Producer с таким объявлением выдаёт индексированный набор выходов
// "<indexed_output>.0", "<indexed_output>.1", …; планировщик
// материализует по одному инстансу consumer'а на каждый индекс.
type FanOutSpec struct {
	// IndexedOutput — имя индексированного выходного плейсхолдера.
	IndexedOutput string `yaml:"indexed_output" json:"indexed_output"`
}

// Operation — одна операция воркер-сервиса.
type Operation struct {
	// Program — имя исполняемого файла инструмента.
	Program string `yaml:"program" json:"program"`

	// Parameters — дескрипторы CLI-флагов операции.
	Parameters map[string]ParamSpec `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Deterministic — операция чистая: одинаковые входы и параметры
	// дают одинаковые выходы. Только такие операции кэшируются.
	Deterministic bool `yaml:"deterministic,omitempty" json:"deterministic,omitempty"`

	// CacheTTLMinutes — срок жизни кэш-записи.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes,omitempty" json:"cache_ttl_minutes,omitempty"`

	// TimeoutSec — таймаут выполнения шага.
	TimeoutSec int `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`

	// FanOut — объявление fan-out, если операция выдаёт
	// индексированный набор выходов.
	FanOut *FanOutSpec `yaml:"fan_out,omitempty" json:"fan_out,omitempty"`
}

// Manifest — манифест одного воркер-сервиса.
type Manifest struct {
	// Service — имя сервиса; совпадает с ключом маршрутизации шага.
	Service string `yaml:"service" json:"service"`

	// Operations — операции сервиса по имени программы.
	Operations map[string]Operation `yaml:"operations" json:"operations"`
}

// Operation возвращает операцию по имени программы.
func (m *Manifest) Operation(program string) (Operation, bool) {
	op, ok := m.Operations[program]
	return op, ok
}

// CheckParameter проверяет значение против дескриптора.
// Значения приходят из JSON, поэтому числа имеют тип float64.
func (p *ParamSpec) CheckParameter(name string, value any) error {
	switch p.Type {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %s: expected string, got %T", name, value)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("parameter %s: value %q not in %v", name, s, p.Enum)
		}
		return nil

	case ParamInt:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("parameter %s: expected integer, got %v", name, value)
		}
		return p.checkRange(name, f)

	case ParamFloat:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("parameter %s: expected number, got %T", name, value)
		}
		return p.checkRange(name, f)

	case ParamBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %s: expected bool, got %T", name, value)
		}
		return nil

	default:
		return fmt.Errorf("parameter %s: unknown type %q in manifest", name, p.Type)
	}
}

// checkRange проверяет числовое значение против Min/Max.
func (p *ParamSpec) checkRange(name string, f float64) error {
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("parameter %s: %v below minimum %v", name, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("parameter %s: %v above maximum %v", name, f, *p.Max)
	}
	return nil
}

// toFloat приводит числовые типы JSON/YAML к float64.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
