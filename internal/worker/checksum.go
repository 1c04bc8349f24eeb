package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// FileChecksum считает sha256 содержимого локального файла.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isLocalRef возвращает true, если ссылка указывает на локальный путь,
// который воркер может открыть напрямую. Облачные ссылки (s3://, …)
// проверяются и суммируются их собственным бэкендом.
func isLocalRef(ref string) bool {
	if strings.Contains(ref, "://") {
		return strings.HasPrefix(ref, "file://")
	}
	return true
}

// localPath срезает file:// префикс.
func localPath(ref string) string {
	return strings.TrimPrefix(ref, "file://")
}
