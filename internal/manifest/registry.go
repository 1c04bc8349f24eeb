package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry — реестр манифестов всех известных воркер-сервисов.
type Registry struct {
	manifests map[string]*Manifest
}

// NewRegistry создаёт реестр со встроенными манифестами.
func NewRegistry() *Registry {
	r := &Registry{manifests: make(map[string]*Manifest)}
	for _, m := range builtinManifests() {
		r.manifests[m.Service] = m
	}
	return r
}

// LoadDir добавляет манифесты из YAML-файлов каталога.
// Файл с сервисом, уже объявленным на диске, — ошибка; переопределение
// встроенного манифеста разрешено.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read manifest dir: %w", err)
	}

	fromDisk := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read manifest %s: %w", name, err)
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse manifest %s: %w", name, err)
		}
		if m.Service == "" {
			return fmt.Errorf("manifest %s: empty service name", name)
		}

		if fromDisk[m.Service] {
			return fmt.Errorf("%w: %s (%s)", ErrDuplicateService, m.Service, name)
		}

		fromDisk[m.Service] = true
		r.manifests[m.Service] = &m
	}

	return nil
}

// Lookup возвращает манифест сервиса.
func (r *Registry) Lookup(service string) (*Manifest, error) {
	m, ok := r.manifests[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return m, nil
}

// Operation возвращает операцию сервиса по имени программы.
func (r *Registry) Operation(service, program string) (Operation, error) {
	m, err := r.Lookup(service)
	if err != nil {
		return Operation{}, err
	}
	op, ok := m.Operation(program)
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, service, program)
	}
	return op, nil
}

// Services возвращает имена всех известных сервисов.
func (r *Registry) Services() []string {
	services := make([]string, 0, len(r.manifests))
	for service := range r.manifests {
		services = append(services, service)
	}
	return services
}
