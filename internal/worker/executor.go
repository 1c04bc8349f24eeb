package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/savrin/waveline/internal/domain"
)

// stderrTail — сколько байт stderr попадает в ошибку шага.
const stderrTail = 2048

// ExecutionResult — исход выполнения шага воркером.
type ExecutionResult struct {
	// Outputs — произведённые выходы: плейсхолдер → ссылка.
	Outputs map[string]string

	// Checksums — контрольные суммы локальных выходов.
	Checksums map[string]string

	// Err — структурированная ошибка; nil при успехе.
	Err *domain.StepError
}

// CommandExecutor исполняет команду аудио-инструмента из контекста шага.
//
// Разделение ошибок:
//   - вход не найден, инструмент завершился ненулевым кодом, выход не
//     создан — APPLICATION_ERROR (повтор только явным retry)
//   - инструмент не запустился, таймаут — INFRASTRUCTURE_ERROR
type CommandExecutor struct {
	// DefaultTimeout — таймаут, если hydrate не передал свой.
	DefaultTimeout time.Duration
}

// NewCommandExecutor создаёт executor.
func NewCommandExecutor(defaultTimeout time.Duration) *CommandExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &CommandExecutor{DefaultTimeout: defaultTimeout}
}

// Execute выполняет шаг. Инфраструктурный сбой самого воркера (не шага)
// возвращается через error.
func (e *CommandExecutor) Execute(ctx context.Context, step *StepContext) (*ExecutionResult, error) {
	if step.CommandSpec.Program == "" {
		return nil, ErrNoProgram
	}

	if stepErr := checkInputs(step); stepErr != nil {
		return &ExecutionResult{Err: stepErr}, nil
	}

	timeout := e.DefaultTimeout
	if step.TimeoutSec > 0 {
		timeout = time.Duration(step.TimeoutSec) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := commandArgv(step)
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return &ExecutionResult{Err: domain.NewInfrastructureError(domain.ErrCodeStepTimeout,
				fmt.Sprintf("%s exceeded timeout of %s", step.CommandSpec.Program, timeout))}, nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stepErr := domain.NewApplicationError(domain.ErrCodeToolExit,
				fmt.Sprintf("%s exited with code %d", step.CommandSpec.Program, exitErr.ExitCode()))
			stepErr.Details = map[string]any{"stderr": tail(stderr.String())}
			return &ExecutionResult{Err: stepErr}, nil
		}

		// Команда не запустилась: бинарь не найден, нет прав.
		return &ExecutionResult{Err: domain.NewInfrastructureError(domain.ErrCodeToolStart, err.Error())}, nil
	}

	return collectOutputs(step)
}

// commandArgv собирает argv из разрешённого CommandSpec.
// Флаги сортируются для детерминированной команды.
func commandArgv(step *StepContext) []string {
	argv := []string{step.CommandSpec.Program}

	flags := make([]string, 0, len(step.CommandSpec.Flags))
	for flag := range step.CommandSpec.Flags {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	for _, flag := range flags {
		argv = append(argv, flag, fmt.Sprintf("%v", step.CommandSpec.Flags[flag]))
	}

	return append(argv, step.CommandSpec.Args...)
}

// checkInputs проверяет, что локальные входы существуют.
func checkInputs(step *StepContext) *domain.StepError {
	for input, ref := range step.ResolvedInputs {
		if !isLocalRef(ref) {
			continue
		}
		if _, err := FileChecksum(localPath(ref)); err != nil {
			stepErr := domain.NewApplicationError(domain.ErrCodeMissingInput,
				fmt.Sprintf("input %s is not readable: %s", input, ref))
			stepErr.Details = map[string]any{"cause": err.Error()}
			return stepErr
		}
	}
	return nil
}

// collectOutputs проверяет выходы и считает контрольные суммы.
func collectOutputs(step *StepContext) (*ExecutionResult, error) {
	result := &ExecutionResult{
		Outputs:   make(map[string]string, len(step.Outputs)),
		Checksums: make(map[string]string),
	}

	var missing []string
	for output, ref := range step.Outputs {
		result.Outputs[output] = ref

		if !isLocalRef(ref) {
			continue
		}
		sum, err := FileChecksum(localPath(ref))
		if err != nil {
			missing = append(missing, output)
			continue
		}
		result.Checksums[output] = sum
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		stepErr := domain.NewApplicationError(domain.ErrCodeMissingOutput,
			fmt.Sprintf("outputs not produced: %s", strings.Join(missing, ", ")))
		return &ExecutionResult{Err: stepErr}, nil
	}

	return result, nil
}

// tail возвращает последние stderrTail байт текста.
func tail(s string) string {
	if len(s) <= stderrTail {
		return s
	}
	return s[len(s)-stderrTail:]
}
