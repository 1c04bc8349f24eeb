package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// keyMaterial — канонизируемая форма ключа.
// json.Marshal сортирует ключи карт, порядок сумм фиксируется заранее.
type keyMaterial struct {
	Service        string            `json:"service"`
	Program        string            `json:"program"`
	Parameters     map[string]string `json:"parameters"`
	InputChecksums []string          `json:"input_checksums"`
}

// Key строит детерминированный ключ кэша операции.
// parameters — CLI-флаги после подстановки шаблонов; checksums —
// контрольные суммы входных ссылок (для литералов без суммы вызывающий
// подставляет саму ссылку как суррогат содержимого).
func Key(service, program string, parameters map[string]any, checksums []string) string {
	canonical := keyMaterial{
		Service:        service,
		Program:        program,
		Parameters:     make(map[string]string, len(parameters)),
		InputChecksums: append([]string(nil), checksums...),
	}

	for name, value := range parameters {
		canonical.Parameters[name] = fmt.Sprintf("%v", value)
	}
	sort.Strings(canonical.InputChecksums)

	body, _ := json.Marshal(canonical)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
