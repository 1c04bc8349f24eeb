package domain

import (
	"fmt"
	"sort"
)

// CommandSpec — сериализуемое описание shell-команды аудио-инструмента.
//
// Оркестратор трактует CommandSpec как непрозрачный payload: он подставляет
// шаблоны в значения флагов при hydrate, но никогда не исполняет команду сам.
//
// Пример:
//
//	CommandSpec{
//	    Program: "fluid-hpss",
//	    Flags:   map[string]any{"-source": "{{steps.load.outputs.audio}}", "-maskingmode": 1},
//	    Args:    []string{},
//	}
type CommandSpec struct {
	// Program — имя исполняемого файла инструмента.
	Program string `json:"program"`

	// Flags — CLI-флаги: имя флага → значение.
	Flags map[string]any `json:"flags,omitempty"`

	// Args — позиционные аргументы после флагов.
	Args []string `json:"args,omitempty"`
}

// Argv собирает список аргументов для exec.
// Флаги сортируются по имени, чтобы команда была детерминированной.
func (c *CommandSpec) Argv() []string {
	argv := []string{c.Program}

	flags := make([]string, 0, len(c.Flags))
	for flag := range c.Flags {
		flags = append(flags, flag)
	}
	sort.Strings(flags)

	for _, flag := range flags {
		argv = append(argv, flag, fmt.Sprintf("%v", c.Flags[flag]))
	}

	argv = append(argv, c.Args...)
	return argv
}

// Clone возвращает глубокую копию CommandSpec.
// Нужна при hydrate: шаблоны подставляются в копию, документ не мутируется.
func (c *CommandSpec) Clone() CommandSpec {
	clone := CommandSpec{Program: c.Program}
	if c.Flags != nil {
		clone.Flags = make(map[string]any, len(c.Flags))
		for k, v := range c.Flags {
			clone.Flags[k] = v
		}
	}
	if c.Args != nil {
		clone.Args = append([]string(nil), c.Args...)
	}
	return clone
}
